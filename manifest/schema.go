package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schema constrains stackmem.toml. Definitions are closed, so unknown
// sections and keys are rejected.
const schema = `
#Config: {
	memory?: {
		"pointer-width"?:    1 | 2 | 4 | 8 | 16
		"check-invariants"?: bool
	}
	log?: {
		verbosity?: int & >=0 & <=5
		file?:      string
	}
	trace?: {
		driver?: "sqlite" | "duckdb"
		dsn?:    string & !=""
		record?: bool
	}
	server?: {
		addr?: string & !=""
	}
}
`

// Validate checks decoded TOML against the configuration schema.
func Validate(raw map[string]any) error {
	ctx := cuecontext.New()
	def := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}
