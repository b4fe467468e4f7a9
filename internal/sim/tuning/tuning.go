// Package tuning holds the run parameters of a swarm simulation.
package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"followme.ai/internal/protocol"
)

type ErrorPolicy string

const (
	// PolicyHalt stops the run on the first execution error.
	PolicyHalt ErrorPolicy = "halt"
	// PolicyRetire terminates the failing agent and keeps the rest of the swarm going.
	PolicyRetire ErrorPolicy = "retire"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	SwarmSize     int   `yaml:"swarm_size"`
	Seed          int64 `yaml:"seed"`
	InstructionMs int64 `yaml:"instruction_ms"`
	SimMs         int64 `yaml:"sim_ms"`
	MaxRounds     int   `yaml:"max_rounds"` // 0 = until the swarm is done

	// Pace sleeps InstructionMs of wall-clock time between rounds.
	Pace bool `yaml:"pace"`

	ErrorPolicy         ErrorPolicy `yaml:"error_policy"`
	SnapshotEveryRounds int         `yaml:"snapshot_every_rounds"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     protocol.Version,
		SwarmSize:           8,
		Seed:                1337,
		InstructionMs:       100,
		SimMs:               100,
		MaxRounds:           10000,
		ErrorPolicy:         PolicyHalt,
		SnapshotEveryRounds: 1,
	}
}

// Load reads a tuning file over the defaults. Keys absent from the file keep their
// default value; unknown keys are rejected.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.ProtocolVersion != protocol.Version {
		errs = append(errs, fmt.Errorf("protocol_version %q not supported (want %q)", t.ProtocolVersion, protocol.Version))
	}
	if t.SwarmSize < 0 {
		errs = append(errs, errors.New("swarm_size must be >= 0"))
	}
	if t.InstructionMs <= 0 {
		errs = append(errs, errors.New("instruction_ms must be > 0"))
	}
	if t.SimMs < 0 {
		errs = append(errs, errors.New("sim_ms must be >= 0"))
	}
	if t.MaxRounds < 0 {
		errs = append(errs, errors.New("max_rounds must be >= 0"))
	}
	switch t.ErrorPolicy {
	case PolicyHalt, PolicyRetire:
	default:
		errs = append(errs, fmt.Errorf("error_policy %q: want %q or %q", t.ErrorPolicy, PolicyHalt, PolicyRetire))
	}
	if t.SnapshotEveryRounds <= 0 {
		errs = append(errs, errors.New("snapshot_every_rounds must be > 0"))
	}
	return errors.Join(errs...)
}
