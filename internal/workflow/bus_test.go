package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrderWithoutDropping(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	fast, cancelFast := bus.Subscribe()
	defer cancelFast()
	slow, cancelSlow := bus.Subscribe()
	defer cancelSlow()

	const n = 1000
	for i := 0; i < n; i++ {
		bus.Observe(OutputChunk{Run: "r", Data: []byte{byte(i)}})
	}

	for _, ch := range []<-chan Event{fast, slow} {
		for i := 0; i < n; i++ {
			select {
			case e := <-ch:
				require.Equal(t, byte(i), e.(OutputChunk).Data[0])
			case <-time.After(5 * time.Second):
				t.Fatalf("event %d not delivered", i)
			}
		}
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	bus.Observe(StatusChanged{Run: "r", From: StatusIdle, To: StatusBooting})
	cancel()
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe()
	bus.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed by Close")
	}

	late, _ := bus.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
	bus.Observe(Failed{Run: "r"})
}

func TestObservers(t *testing.T) {
	var got []string
	obs := Observers{
		ObserverFunc(func(e Event) { got = append(got, "a:"+e.RunID()) }),
		nil,
		ObserverFunc(func(e Event) { got = append(got, "b:"+e.RunID()) }),
	}
	obs.Observe(ServerReady{Run: "x", Port: 3000})
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}
