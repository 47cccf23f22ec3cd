package asset

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	addr := common.HexToAddress("0x2000000000000000000000000000000000000002")

	if r.Supported(addr) {
		t.Fatal("empty registry should support nothing")
	}
	if err := r.Register(&Collection{Address: addr, Name: "test"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.Supported(addr) {
		t.Fatal("registered collection not supported")
	}
	if err := r.Register(&Collection{Address: addr}); err == nil {
		t.Fatal("duplicate register should fail")
	}
	if r.Count() != 1 || len(r.List()) != 1 {
		t.Errorf("Count() = %d, List() = %d entries, want 1", r.Count(), len(r.List()))
	}

	if err := r.Unregister(addr); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if r.Supported(addr) {
		t.Fatal("unregistered collection still supported")
	}
	if err := r.Unregister(addr); err == nil {
		t.Fatal("double unregister should fail")
	}
}
