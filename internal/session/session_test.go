package session

import (
	"reflect"
	"sync"
	"testing"
)

func TestToggle(t *testing.T) {
	t.Parallel()

	m := NewManager()
	k := Key{UserID: 1, ChatID: 2, MessageID: 3}

	steps := []struct {
		index int
		want  []int
	}{
		{2, []int{2}},
		{0, []int{0, 2}},
		{2, []int{0}},
		{0, nil},
	}
	for i, s := range steps {
		got := m.Toggle(k, s.index)
		if !reflect.DeepEqual(got, s.want) {
			t.Fatalf("step %d: got=%v want=%v", i, got, s.want)
		}
	}
	if got := m.Take(k); got != nil {
		t.Fatalf("empty selection kept: %v", got)
	}
}

func TestTakeClears(t *testing.T) {
	t.Parallel()

	m := NewManager()
	k := Key{UserID: 1, ChatID: 2, MessageID: 3}
	m.Toggle(k, 1)
	m.Toggle(k, 4)

	if got := m.Take(k); !reflect.DeepEqual(got, []int{1, 4}) {
		t.Fatalf("take: got=%v", got)
	}
	if got := m.Take(k); got != nil {
		t.Fatalf("second take: got=%v", got)
	}

	m.Restore(k, []int{1, 4})
	if got := m.Take(k); !reflect.DeepEqual(got, []int{1, 4}) {
		t.Fatalf("restore: got=%v", got)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	m := NewManager()
	alice := Key{UserID: 1, ChatID: 2, MessageID: 3}
	bob := Key{UserID: 2, ChatID: 2, MessageID: 3}
	other := Key{UserID: 1, ChatID: 2, MessageID: 4}

	m.Toggle(alice, 0)
	m.Toggle(bob, 1)
	m.Toggle(other, 2)

	m.Forget(2, 3)
	if m.Take(alice) != nil || m.Take(bob) != nil {
		t.Fatalf("forget kept selections on the replaced message")
	}
	if got := m.Take(other); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("forget touched another message: %v", got)
	}
}

func TestConcurrentToggle(t *testing.T) {
	t.Parallel()

	m := NewManager()
	var wg sync.WaitGroup
	for u := int64(0); u < 16; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			k := Key{UserID: u, ChatID: 1, MessageID: 1}
			m.Toggle(k, int(u%5))
		}(u)
	}
	wg.Wait()

	for u := int64(0); u < 16; u++ {
		got := m.Take(Key{UserID: u, ChatID: 1, MessageID: 1})
		if !reflect.DeepEqual(got, []int{int(u % 5)}) {
			t.Fatalf("user %d: got=%v", u, got)
		}
	}
}
