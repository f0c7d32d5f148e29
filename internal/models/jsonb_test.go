package models

import "testing"

func TestMetrics_ValueScan(t *testing.T) {
	in := Metrics{MetricCorrectness: 0.1, "complexity": 0.4}

	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var out Metrics
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(out) != 2 || out[MetricCorrectness] != 0.1 {
		t.Errorf("Scan() = %v, want %v", out, in)
	}
}

func TestMetrics_Scan(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantLen int
		wantErr bool
	}{
		{"nil", nil, 0, false},
		{"empty bytes", []byte{}, 0, false},
		{"string", `{"edge_cases":0.3}`, 1, false},
		{"wrong type", 12, 0, true},
		{"bad json", []byte(`{`), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Metrics
			err := m.Scan(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(m) != tt.wantLen {
				t.Errorf("Scan() len = %d, want %d", len(m), tt.wantLen)
			}
		})
	}
}

func TestMetrics_NilValue(t *testing.T) {
	var m Metrics
	v, err := m.Value()
	if err != nil || v != nil {
		t.Errorf("Value() = %v, %v; want nil, nil", v, err)
	}
}
