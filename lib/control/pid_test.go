package control

import "testing"

func TestScheduleTiers(t *testing.T) {
	s := DefaultSchedule()
	tests := []struct {
		err  float64
		want Gains
	}{
		{150, Gains{1.0, 0.02, 0.05}},
		{100, Gains{0.6, 0.05, 0.05}},
		{50, Gains{0.6, 0.05, 0.05}},
		{20, Gains{0.4, 0.1, 0.01}},
		{0.5, Gains{0.4, 0.1, 0.01}},
	}
	for _, tt := range tests {
		if got := s.For(tt.err); got != tt.want {
			t.Errorf("For(%v) = %+v, want %+v", tt.err, got, tt.want)
		}
	}
}

func TestPIDAccumulates(t *testing.T) {
	p := PID{Gains: Gains{Kp: 1, Ki: 0.5, Kd: 0.25}}
	if got := p.Update(10); got != 10+5+2.5 {
		t.Fatalf("first update = %v", got)
	}
	// integral 14, derivative -6
	if got := p.Update(4); got != 4+7-1.5 {
		t.Fatalf("second update = %v", got)
	}

	p.Reset()
	p.Dt = 0.5
	// integral 5, derivative 20
	if got := p.Update(10); got != 10+2.5+5 {
		t.Fatalf("scaled update = %v", got)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(-0.2, 0, 1) != 0 || Clamp(1.7, 0, 1) != 1 || Clamp(0.25, 0, 1) != 0.25 {
		t.Fatal("clamp out of range")
	}
}
