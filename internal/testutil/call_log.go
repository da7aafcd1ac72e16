package testutil

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CallLogEntry is one call record in YAML form. It wraps CallRecord for
// serialization, handling time formatting.
type CallLogEntry struct {
	Dir       string   `yaml:"dir,omitempty"`
	Args      []string `yaml:"args"`
	Timestamp string   `yaml:"timestamp"`
	Stdout    string   `yaml:"stdout,omitempty"`
	Stderr    string   `yaml:"stderr,omitempty"`
	ExitCode  int      `yaml:"exit_code"`
	Error     string   `yaml:"error,omitempty"`
}

// HasError returns true if the entry recorded a spawn or context error.
func (e CallLogEntry) HasError() bool {
	return e.Error != ""
}

// CallLog wraps []CallLogEntry for YAML serialization.
type CallLog struct {
	Entries []CallLogEntry `yaml:"entries"`
}

// WriteCallLog writes call records to a YAML file.
func WriteCallLog(path string, records []CallRecord) error {
	log := CallLog{
		Entries: make([]CallLogEntry, 0, len(records)),
	}
	for _, r := range records {
		log.Entries = append(log.Entries, callRecordToEntry(r))
	}

	data, err := yaml.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshaling call log to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing call log to %s: %w", path, err)
	}
	return nil
}

// ReadCallLog reads a YAML call log from a file.
func ReadCallLog(path string) (*CallLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading call log from %s: %w", path, err)
	}

	var log CallLog
	if err := yaml.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("unmarshaling call log YAML: %w", err)
	}
	return &log, nil
}

// ToCallRecords converts log entries back to call records.
func (log *CallLog) ToCallRecords() ([]CallRecord, error) {
	records := make([]CallRecord, 0, len(log.Entries))
	for i, entry := range log.Entries {
		record, err := entryToCallRecord(entry)
		if err != nil {
			return nil, fmt.Errorf("converting entry %d: %w", i, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func callRecordToEntry(r CallRecord) CallLogEntry {
	return CallLogEntry{
		Dir:       r.Dir,
		Args:      r.Args,
		Timestamp: r.Timestamp.Format(time.RFC3339Nano),
		Stdout:    r.Stdout,
		Stderr:    r.Stderr,
		ExitCode:  r.ExitCode,
		Error:     r.Err,
	}
}

func entryToCallRecord(entry CallLogEntry) (CallRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		return CallRecord{}, fmt.Errorf("parsing timestamp %q: %w", entry.Timestamp, err)
	}

	return CallRecord{
		Dir:       entry.Dir,
		Args:      entry.Args,
		Timestamp: ts,
		Stdout:    entry.Stdout,
		Stderr:    entry.Stderr,
		ExitCode:  entry.ExitCode,
		Err:       entry.Error,
	}, nil
}
