package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"followme.ai/internal/protocol"
)

// Visitor receives the records of a round log in write order. Any callback may be nil.
type Visitor struct {
	Run   func(protocol.RunHeader) error
	Round func(protocol.RoundMsg) error
	Done  func(protocol.DoneMsg) error
}

// ListSegments returns the round log files of runDir in order.
func ListSegments(runDir string) ([]string, error) {
	ents, err := os.ReadDir(runDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "rounds-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(runDir, name))
	}
	return out, nil
}

// ReadRun walks every record of the run stored in runDir.
func ReadRun(runDir string, v Visitor) error {
	files, err := ListSegments(runDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no round log found in %s", runDir)
	}
	for _, path := range files {
		if err := readFile(path, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader returns the RUN record that opens the log of runDir.
func ReadHeader(runDir string) (protocol.RunHeader, error) {
	var h protocol.RunHeader
	found := false
	errStop := errors.New("stop")
	err := ReadRun(runDir, Visitor{
		Run: func(got protocol.RunHeader) error {
			h, found = got, true
			return errStop
		},
		Round: func(protocol.RoundMsg) error { return errStop },
	})
	if err != nil && !errors.Is(err, errStop) {
		return h, err
	}
	if !found {
		return h, fmt.Errorf("%s: round log has no RUN header", runDir)
	}
	return h, nil
}

func readFile(path string, v Visitor) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		base, err := protocol.DecodeBase(line)
		if err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		switch base.Type {
		case protocol.TypeRun:
			var h protocol.RunHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return fmt.Errorf("%s: unmarshal RUN: %w", filepath.Base(path), err)
			}
			if v.Run != nil {
				if err := v.Run(h); err != nil {
					return err
				}
			}
		case protocol.TypeRound:
			var m protocol.RoundMsg
			if err := json.Unmarshal(line, &m); err != nil {
				return fmt.Errorf("%s: unmarshal ROUND: %w", filepath.Base(path), err)
			}
			if v.Round != nil {
				if err := v.Round(m); err != nil {
					return err
				}
			}
		case protocol.TypeDone:
			var d protocol.DoneMsg
			if err := json.Unmarshal(line, &d); err != nil {
				return fmt.Errorf("%s: unmarshal DONE: %w", filepath.Base(path), err)
			}
			if v.Done != nil {
				if err := v.Done(d); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%s: unknown record type %q", filepath.Base(path), base.Type)
		}
	}
	return sc.Err()
}
