// Package scenario loads a swarm scenario (regions plus a structured program tree)
// from YAML or JSON, validates it and compiles it into instructions.
package scenario

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"followme.ai/internal/sim/mathx"
	"followme.ai/internal/sim/program"
	"followme.ai/internal/sim/region"
)

//go:embed scenario.schema.json
var schemaJSON string

const schemaURL = "https://followme.ai/schemas/scenario.schema.json"

// MaxInstructions bounds the size of a compiled program once every REPEAT is unrolled.
const MaxInstructions = 1 << 20

var ErrInvalid = errors.New("invalid scenario")

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("scenario schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Op is one node of the program tree as written in a scenario file.
type Op struct {
	Op      string    `json:"op"`
	Label   string    `json:"label,omitempty"`
	Args    []float64 `json:"args,omitempty"`
	Times   int       `json:"times,omitempty"`
	Seconds int       `json:"seconds,omitempty"`
	Body    []Op      `json:"body,omitempty"`
}

type Document struct {
	Name    string       `json:"name,omitempty"`
	Regions []region.Def `json:"regions,omitempty"`
	Program []Op         `json:"program"`
}

// Scenario is a validated, compiled document.
type Scenario struct {
	Name    string
	Regions []region.Def
	Program []program.Instruction

	// Canonical is the document in canonical JSON (RFC 8785); Digest is its
	// sha256. Both identify the scenario in run metadata.
	Canonical json.RawMessage
	Digest    string
}

func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse accepts YAML or JSON.
func Parse(raw []byte) (*Scenario, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	encoded, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	// RFC 8785 form, so the digest ignores key order, spacing and number spelling.
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var d Document
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	s, err := Compile(d)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	s.Canonical = canonical
	s.Digest = hex.EncodeToString(sum[:])
	return s, nil
}

// Compile builds instructions and region definitions from d and checks their
// arguments. It does not validate against the schema.
func Compile(d Document) (*Scenario, error) {
	if _, err := region.Compile(d.Regions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c := compiler{}
	instrs, err := c.body(d.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := program.Validate(instrs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &Scenario{Name: d.Name, Regions: d.Regions, Program: instrs}, nil
}

type compiler struct {
	size int
}

func (c *compiler) body(ops []Op) ([]program.Instruction, error) {
	out := make([]program.Instruction, 0, len(ops))
	for i, op := range ops {
		ins, err := c.op(op)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i, op.Op, err)
		}
		out = append(out, ins)
	}
	return out, nil
}

func (c *compiler) op(op Op) (program.Instruction, error) {
	c.size++
	if c.size > MaxInstructions {
		return nil, fmt.Errorf("program exceeds %d instructions", MaxInstructions)
	}
	switch strings.ToLower(op.Op) {
	case "move":
		if err := wantArgs(op, 3); err != nil {
			return nil, err
		}
		return program.Move{Offset: mathx.Vec2{X: op.Args[0], Y: op.Args[1]}, Speed: op.Args[2]}, nil
	case "move_random":
		if err := wantArgs(op, 5); err != nil {
			return nil, err
		}
		a := op.Args
		return program.MoveRandom{X1: a[0], X2: a[1], Y1: a[2], Y2: a[3], Speed: a[4]}, nil
	case "signal":
		return program.Signal{Label: op.Label}, nil
	case "unsignal":
		return program.Unsignal{Label: op.Label}, nil
	case "follow":
		if err := wantArgs(op, 2); err != nil {
			return nil, err
		}
		return program.Follow{Label: op.Label, Radius: op.Args[0], Speed: op.Args[1]}, nil
	case "stop":
		return program.Stop{}, nil
	case "continue":
		if op.Seconds < 0 {
			return nil, fmt.Errorf("seconds must be >= 0, got %d", op.Seconds)
		}
		return program.Continue{Seconds: op.Seconds}, nil
	case "repeat":
		if op.Times < 0 {
			return nil, fmt.Errorf("times must be >= 0, got %d", op.Times)
		}
		before := c.size
		body, err := c.body(op.Body)
		if err != nil {
			return nil, err
		}
		if n := c.size - before; n > 0 {
			if op.Times > MaxInstructions/n {
				return nil, fmt.Errorf("program exceeds %d instructions", MaxInstructions)
			}
			c.size += (op.Times - 1) * n
			if c.size > MaxInstructions {
				return nil, fmt.Errorf("program exceeds %d instructions", MaxInstructions)
			}
		}
		return program.NewRepeat(op.Times, body), nil
	case "until":
		body, err := c.body(op.Body)
		if err != nil {
			return nil, err
		}
		return program.NewUntil(op.Label, body), nil
	case "forever":
		body, err := c.body(op.Body)
		if err != nil {
			return nil, err
		}
		return program.NewForever(body), nil
	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

func wantArgs(op Op, n int) error {
	if len(op.Args) != n {
		return fmt.Errorf("want %d args, got %d", n, len(op.Args))
	}
	return nil
}
