package validator

import (
	"testing"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	return v
}

func TestConfigContract(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"empty", `{}`, false},
		{"full", `{"dumpDir":"./vcd","scan":{"chunkSize":65536,"windowBefore":1,"windowAfter":2},
			"cache":{"enabled":true,"backend":"redis","redis":{"addr":"localhost:6379","db":0,"keyPrefix":"vcd:"}},
			"server":{"addr":":8080","requestTimeout":"30s","metricsPath":"/metrics"},
			"watch":{"settle":"500ms","concurrency":4},"log":{"level":"debug","format":"json"},"timing":true}`, false},
		{"unknown_backend", `{"cache":{"backend":"etcd"}}`, true},
		{"negative_window", `{"scan":{"windowBefore":-1}}`, true},
		{"zero_window_before", `{"scan":{"windowBefore":0}}`, true},
		{"zero_window_after", `{"scan":{"windowAfter":0}}`, true},
		{"unknown_field", `{"dumpdir":"./vcd"}`, true},
		{"wrong_type", `{"timing":"yes"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateConfigJSON([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfigJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHeaderContract(t *testing.T) {
	v := newValidator(t)

	maxTime := uint64(30)
	good := map[string]any{
		"modules":         map[string]any{"top": map[string]any{"sub": map[string]any{}}},
		"signalsOfModule": map[string][]string{"top": {"! clk"}, "sub": {}},
		"timescale":       "1ns",
		"maxTime":         maxTime,
	}
	if err := v.ValidateHeader(good); err != nil {
		t.Fatalf("valid header rejected: %v", err)
	}

	bad := map[string]any{
		"modules":         map[string]any{},
		"signalsOfModule": map[string]any{"top": []int{1}},
	}
	if err := v.ValidateHeader(bad); err == nil {
		t.Fatalf("expected header with numeric signals to fail")
	}
}

func TestValidationErrors(t *testing.T) {
	v := newValidator(t)

	errs := v.ValidationErrors([]byte(`{"scan":{"chunkSize":-1}}`), ConfigDef)
	if len(errs) == 0 {
		t.Fatalf("expected errors for a negative chunk size")
	}
	if errs := v.ValidationErrors([]byte(`{}`), ConfigDef); errs != nil {
		t.Fatalf("expected no errors, got %v", errs)
	}
}
