package am

import "testing"

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		in      string
		want    Speed
		wantErr bool
	}{
		{in: "", want: SpeedNormal},
		{in: "normal", want: SpeedNormal},
		{in: "maximum", want: SpeedMaximum},
		{in: "background", want: SpeedBackground},
		{in: "turbo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpeed(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSpeed(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSpeed(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSpeed_WorkersFor(t *testing.T) {
	tests := []struct {
		speed Speed
		cpus  int
		want  int
	}{
		{SpeedMaximum, 8, 8},
		{SpeedNormal, 8, 4},
		{SpeedNormal, 7, 4},
		{SpeedNormal, 1, 1},
		{SpeedBackground, 8, 1},
		{SpeedBackground, 1, 1},
	}

	for _, tt := range tests {
		if got := tt.speed.workersFor(tt.cpus); got != tt.want {
			t.Errorf("%s.workersFor(%d) = %d, want %d", tt.speed, tt.cpus, got, tt.want)
		}
	}
}
