package registry

import (
	"fmt"
	"sync"
	"testing"

	"callrec-server/pkg/call"
	"callrec-server/pkg/errors"
)

func TestRegistryRegisterLookupRemove(t *testing.T) {
	r := New(16)

	s := &call.Session{}
	if err := r.Register("call-1", s); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := r.Lookup("call-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != s {
		t.Error("Lookup returned a different session")
	}

	removed, err := r.Remove("call-1")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed != s {
		t.Error("Remove returned a different session")
	}

	if _, err := r.Lookup("call-1"); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Errorf("Expected session-not-found after remove, got %v", err)
	}
}

func TestRegistryDuplicateRegister(t *testing.T) {
	r := New(16)

	if err := r.Register("call-1", &call.Session{}); err != nil {
		t.Fatalf("First register failed: %v", err)
	}

	err := r.Register("call-1", &call.Session{})
	if !errors.IsErrorType(err, errors.ErrDuplicateSession) {
		t.Errorf("Expected duplicate-session error, got %v", err)
	}

	// The original registration must survive the rejected one.
	if _, lookupErr := r.Lookup("call-1"); lookupErr != nil {
		t.Errorf("Original session lost after duplicate register: %v", lookupErr)
	}
}

func TestRegistryDoubleRemove(t *testing.T) {
	r := New(16)

	if err := r.Register("call-1", &call.Session{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := r.Remove("call-1"); err != nil {
		t.Fatalf("First remove failed: %v", err)
	}
	if _, err := r.Remove("call-1"); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Errorf("Expected session-not-found on second remove, got %v", err)
	}
}

func TestRegistryInvalidShardCountFallsBack(t *testing.T) {
	for _, count := range []int{0, -1, 3, 17} {
		r := New(count)
		if err := r.Register("call-1", &call.Session{}); err != nil {
			t.Errorf("Registry with shardCount=%d unusable: %v", count, err)
		}
	}
}

func TestRegistryCountAndRange(t *testing.T) {
	r := New(16)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("call-%d", i)
		if err := r.Register(id, &call.Session{}); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	if got := r.Count(); got != 50 {
		t.Errorf("Count = %d, want 50", got)
	}

	seen := 0
	r.Range(func(id string, s *call.Session) bool {
		seen++
		return true
	})
	if seen != 50 {
		t.Errorf("Range visited %d sessions, want 50", seen)
	}

	seen = 0
	r.Range(func(id string, s *call.Session) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Errorf("Range ignored early stop, visited %d", seen)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := New(16)

	var wg sync.WaitGroup
	workers := 10
	perWorker := 100

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("call-%d-%d", w, i)
				if err := r.Register(id, &call.Session{}); err != nil {
					t.Errorf("Register %s failed: %v", id, err)
					return
				}
				if _, err := r.Lookup(id); err != nil {
					t.Errorf("Lookup %s failed: %v", id, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if got := r.Count(); got != workers*perWorker {
		t.Errorf("Count = %d, want %d", got, workers*perWorker)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("call-%d-%d", w, i)
				if _, err := r.Remove(id); err != nil {
					t.Errorf("Remove %s failed: %v", id, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if got := r.Count(); got != 0 {
		t.Errorf("Count after removes = %d, want 0", got)
	}
}
