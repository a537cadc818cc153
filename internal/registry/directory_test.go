package registry

import (
	"sync"
	"testing"
)

type payload struct {
	name string
}

func TestRegisterEnforcesKeyUniqueness(t *testing.T) {
	dir := NewDirectory[payload]()
	first, err := dir.Register("1234", &payload{name: "alpha"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := dir.Register("1234", &payload{name: "beta"}); err != ErrKeyTaken {
		t.Fatalf("expected ErrKeyTaken, got %v", err)
	}

	found, ok := dir.Find("1234")
	if !ok {
		t.Fatal("find after register failed")
	}
	found.Do(func(p *payload) {
		if p.name != "alpha" {
			t.Fatalf("wrong payload: %q", p.name)
		}
	})
	_ = first
}

func TestConcurrentRegistrationKeepsSingleEntryPerKey(t *testing.T) {
	dir := NewDirectory[payload]()
	var wg sync.WaitGroup
	var okCount, takenCount sync.Map
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := dir.Register("shared", &payload{}); err == nil {
				okCount.Store(i, true)
			} else {
				takenCount.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	okCount.Range(func(any, any) bool { wins++; return true })
	if wins != 1 {
		t.Fatalf("expected exactly one successful registration, got %d", wins)
	}
	if dir.Len() != 1 {
		t.Fatalf("expected one entry, got %d", dir.Len())
	}
}

func TestWeakUpgradeFailsAfterRemoval(t *testing.T) {
	dir := NewDirectory[payload]()
	handle, err := dir.Register("42", &payload{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	weak := handle.Weak()
	if !weak.Alive() {
		t.Fatal("weak handle should be alive while registered")
	}

	if !dir.Remove("42") {
		t.Fatal("remove failed")
	}
	if weak.Alive() {
		t.Fatal("weak handle still alive after removal")
	}
	if _, ok := weak.Upgrade(); ok {
		t.Fatal("upgrade succeeded after removal")
	}
}

func TestRemoveByIdentity(t *testing.T) {
	dir := NewDirectory[payload]()
	handle, err := dir.Register("7777", &payload{name: "target"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := dir.Register("8888", &payload{name: "other"}); err != nil {
		t.Fatalf("register other: %v", err)
	}

	if !dir.RemoveByIdentity(handle) {
		t.Fatal("remove by identity failed")
	}
	if _, ok := dir.Find("7777"); ok {
		t.Fatal("entry still present after identity removal")
	}
	if _, ok := dir.Find("8888"); !ok {
		t.Fatal("unrelated entry removed")
	}
	if dir.RemoveByIdentity(handle) {
		t.Fatal("second identity removal should be a no-op")
	}
}

func TestRegisterWithCodeDrawsDigitCodes(t *testing.T) {
	dir := NewDirectory[payload]()
	_, code, err := dir.RegisterWithCode(6, func(string) *payload { return &payload{} })
	if err != nil {
		t.Fatalf("register with code: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("unexpected code length: %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in join code: %q", code)
		}
	}
	if _, ok := dir.Find(code); !ok {
		t.Fatal("code not registered")
	}
}
