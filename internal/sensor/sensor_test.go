package sensor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"edgenode/internal/reading"
)

type fakeADC struct {
	sample analog.Sample
	err    error
}

func (f fakeADC) Read() (analog.Sample, error) { return f.sample, f.err }

type fakeClimate struct {
	t, h float64
	err  error
}

func (f fakeClimate) ReadClimate() (float64, float64, error) { return f.t, f.h, f.err }

type fakeEnv struct {
	env physic.Env
	err error
}

func (f fakeEnv) Sense(env *physic.Env) error {
	if f.err != nil {
		return f.err
	}
	*env = f.env
	return nil
}

type fakeEchoer struct {
	rt  time.Duration
	err error
}

func (f fakeEchoer) Echo(context.Context) (time.Duration, error) { return f.rt, f.err }

func TestMoisture_Sample(t *testing.T) {
	t.Run("raw count is passed through unfiltered", func(t *testing.T) {
		for _, raw := range []int32{0, 512, 1023, 40000} {
			m := NewMoisture(fakeADC{sample: analog.Sample{Raw: raw}})
			r := m.Sample(context.Background())
			f, ok := r.Field(reading.Moisture)
			if !ok {
				t.Fatalf("raw %d: reading invalid: %v", raw, r.Err())
			}
			if f.Value != float64(raw) {
				t.Errorf("raw %d: value = %v", raw, f.Value)
			}
		}
	})

	t.Run("adc failure is invalid", func(t *testing.T) {
		m := NewMoisture(fakeADC{err: errors.New("i2c nack")})
		r := m.Sample(context.Background())
		if r.IsValid() {
			t.Fatal("reading is valid, want invalid")
		}
		if !errors.Is(r.Err(), reading.ErrNoReading) {
			t.Errorf("Err() = %v, want ErrNoReading", r.Err())
		}
	})
}

func TestClimate_Sample(t *testing.T) {
	tests := []struct {
		name  string
		src   fakeClimate
		valid bool
	}{
		{name: "both numeric", src: fakeClimate{t: 21.3, h: 40.1}, valid: true},
		{name: "temperature NaN", src: fakeClimate{t: math.NaN(), h: 40.1}},
		{name: "humidity NaN", src: fakeClimate{t: 21.3, h: math.NaN()}},
		{name: "both NaN", src: fakeClimate{t: math.NaN(), h: math.NaN()}},
		{name: "infinite", src: fakeClimate{t: math.Inf(1), h: 10}},
		{name: "source error", src: fakeClimate{err: errors.New("checksum")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewClimate(tt.src).Sample(context.Background())
			if r.IsValid() != tt.valid {
				t.Fatalf("IsValid() = %v, want %v (err %v)", r.IsValid(), tt.valid, r.Err())
			}
			if !tt.valid {
				if len(r.Fields()) != 0 {
					t.Errorf("invalid reading carries fields: %v", r.Fields())
				}
				return
			}
			temp, _ := r.Field(reading.Temperature)
			hum, _ := r.Field(reading.Humidity)
			if temp.Value != tt.src.t || hum.Value != tt.src.h {
				t.Errorf("fields = %v/%v, want %v/%v", temp.Value, hum.Value, tt.src.t, tt.src.h)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	var env physic.Env
	env.Temperature = physic.ZeroCelsius + 25*physic.Kelvin
	env.Humidity = 55 * physic.PercentRH

	temp, hum, err := FromEnv(fakeEnv{env: env}).ReadClimate()
	if err != nil {
		t.Fatalf("ReadClimate() error = %v", err)
	}
	if math.Abs(temp-25) > 1e-6 {
		t.Errorf("temperature = %v, want 25", temp)
	}
	if math.Abs(hum-55) > 1e-6 {
		t.Errorf("humidity = %v, want 55", hum)
	}

	if _, _, err := FromEnv(fakeEnv{err: errors.New("bus")}).ReadClimate(); err == nil {
		t.Error("ReadClimate() error = nil, want bus error")
	}
}

func TestRoundTripToCM(t *testing.T) {
	// 1000 us round trip: 1000 * 0.034 / 2 = 17 cm.
	if got := RoundTripToCM(time.Millisecond); math.Abs(got-17) > 1e-9 {
		t.Errorf("RoundTripToCM(1ms) = %v, want 17", got)
	}
}

func TestDistance_Sample(t *testing.T) {
	tests := []struct {
		name    string
		echo    fakeEchoer
		valid   bool
		wantErr error
		wantCM  float64
	}{
		{name: "normal echo", echo: fakeEchoer{rt: 1000 * time.Microsecond}, valid: true, wantCM: 17},
		{name: "short echo", echo: fakeEchoer{rt: 100 * time.Microsecond}, valid: true, wantCM: 1.7},
		// No echo: the classic sketch reported 0 cm here. It is a disconnected
		// or blocked sensor, not a measurement.
		{name: "zero round trip", echo: fakeEchoer{rt: 0}, wantErr: ErrNoEcho},
		// 400 cm is the rated limit; 30 ms maps to 510 cm.
		{name: "beyond max range", echo: fakeEchoer{rt: 30 * time.Millisecond}, wantErr: ErrOutOfRange},
		{name: "echo error", echo: fakeEchoer{err: errors.New("pin busy")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewDistance(tt.echo, 0).Sample(context.Background())
			if r.IsValid() != tt.valid {
				t.Fatalf("IsValid() = %v, want %v (err %v)", r.IsValid(), tt.valid, r.Err())
			}
			if tt.wantErr != nil && !errors.Is(r.Err(), tt.wantErr) {
				t.Errorf("Err() = %v, want %v", r.Err(), tt.wantErr)
			}
			if tt.valid {
				f, _ := r.Field(reading.Distance)
				if math.Abs(f.Value-tt.wantCM) > 1e-9 {
					t.Errorf("distance = %v, want %v", f.Value, tt.wantCM)
				}
			}
		})
	}
}

func TestDistance_MaxRangeIsInclusive(t *testing.T) {
	rt := 5 * time.Millisecond
	limit := RoundTripToCM(rt)

	r := NewDistance(fakeEchoer{rt: rt}, limit).Sample(context.Background())
	if !r.IsValid() {
		t.Fatalf("reading at the range limit %v cm is invalid: %v", limit, r.Err())
	}

	r = NewDistance(fakeEchoer{rt: rt + time.Microsecond}, limit).Sample(context.Background())
	if !errors.Is(r.Err(), ErrOutOfRange) {
		t.Fatalf("reading just past the limit: Err() = %v, want ErrOutOfRange", r.Err())
	}
}

func TestSample_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sensors := map[string]Sensor{
		"moisture": NewMoisture(fakeADC{}),
		"climate":  NewClimate(fakeClimate{t: 1, h: 1}),
		"distance": NewDistance(fakeEchoer{rt: time.Millisecond}, 0),
	}
	for name, s := range sensors {
		if r := s.Sample(ctx); r.IsValid() {
			t.Errorf("%s: valid reading after cancel", name)
		}
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type fakeTrigger struct {
	levels []gpio.Level
	err    error
}

func (f *fakeTrigger) Out(l gpio.Level) error {
	if f.err != nil {
		return f.err
	}
	f.levels = append(f.levels, l)
	return nil
}

// fakeEchoPin replays levels; each edge wait advances the clock by step.
type fakeEchoPin struct {
	clock  *fakeClock
	levels []gpio.Level
	step   time.Duration
	i      int
}

func (f *fakeEchoPin) Read() gpio.Level {
	if f.i >= len(f.levels) {
		return f.levels[len(f.levels)-1]
	}
	return f.levels[f.i]
}

func (f *fakeEchoPin) WaitForEdge(timeout time.Duration) bool {
	if f.i+1 >= len(f.levels) {
		f.clock.t = f.clock.t.Add(timeout)
		return false
	}
	f.i++
	f.clock.t = f.clock.t.Add(f.step)
	return true
}

func newTestEcho(trig *fakeTrigger, pin *fakeEchoPin, clock *fakeClock) *GPIOEcho {
	g := NewGPIOEcho(trig, pin, 50*time.Millisecond)
	g.now = clock.now
	g.sleep = func(time.Duration) {}
	return g
}

func TestGPIOEcho_MeasuresHighPulse(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	trig := &fakeTrigger{}
	pin := &fakeEchoPin{
		clock:  clock,
		levels: []gpio.Level{gpio.Low, gpio.High, gpio.High, gpio.Low},
		step:   100 * time.Microsecond,
	}

	rt, err := newTestEcho(trig, pin, clock).Echo(context.Background())
	if err != nil {
		t.Fatalf("Echo() error = %v", err)
	}
	if rt != 200*time.Microsecond {
		t.Errorf("Echo() = %v, want 200µs", rt)
	}
	want := []gpio.Level{gpio.Low, gpio.High, gpio.Low}
	if len(trig.levels) != len(want) {
		t.Fatalf("trigger levels = %v, want %v", trig.levels, want)
	}
	for i := range want {
		if trig.levels[i] != want[i] {
			t.Errorf("trigger[%d] = %v, want %v", i, trig.levels[i], want[i])
		}
	}
}

func TestGPIOEcho_NoEchoReturnsZero(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	pin := &fakeEchoPin{clock: clock, levels: []gpio.Level{gpio.Low}}

	rt, err := newTestEcho(&fakeTrigger{}, pin, clock).Echo(context.Background())
	if err != nil {
		t.Fatalf("Echo() error = %v", err)
	}
	if rt != 0 {
		t.Errorf("Echo() = %v, want 0", rt)
	}
}

func TestGPIOEcho_TriggerFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	pin := &fakeEchoPin{clock: clock, levels: []gpio.Level{gpio.Low}}
	trig := &fakeTrigger{err: errors.New("pin busy")}

	if _, err := newTestEcho(trig, pin, clock).Echo(context.Background()); err == nil {
		t.Fatal("Echo() error = nil, want trigger error")
	}
}
