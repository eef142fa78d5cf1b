package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testVaultPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "vault.json")
}

func TestVaultInitAndUnlock(t *testing.T) {
	t.Parallel()

	v := New(testVaultPath(t))
	if v.IsInitialized() {
		t.Fatal("fresh vault reports initialized")
	}
	if err := v.Init("correct horse"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !v.IsInitialized() {
		t.Error("vault not initialized after Init")
	}
	if v.IsUnlocked() {
		t.Error("vault unlocked right after Init")
	}
	if err := v.Init("correct horse"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Init: err = %v, want ErrAlreadyInitialized", err)
	}

	if err := v.Unlock("correct horse"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !v.IsUnlocked() {
		t.Error("vault locked after successful Unlock")
	}
}

func TestVaultWrongPassphrase(t *testing.T) {
	t.Parallel()

	v := New(testVaultPath(t))
	if err := v.Init("right"); err != nil {
		t.Fatal(err)
	}
	if err := v.Unlock("wrong"); !errors.Is(err, ErrUnlockFailed) {
		t.Errorf("Unlock with wrong passphrase: err = %v, want ErrUnlockFailed", err)
	}
	if v.IsUnlocked() {
		t.Error("vault unlocked after failed Unlock")
	}
}

func TestVaultEmptyPassphrase(t *testing.T) {
	t.Parallel()

	v := New(testVaultPath(t))
	if err := v.Init(""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("Init: err = %v, want ErrEmptyPassphrase", err)
	}
	if err := v.Unlock(""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("Unlock: err = %v, want ErrEmptyPassphrase", err)
	}
}

func TestVaultPutGetDelete(t *testing.T) {
	t.Parallel()

	v := New(testVaultPath(t))
	if err := v.Init("pass"); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Put(KindPassword, "hunter2"); !errors.Is(err, ErrLocked) {
		t.Errorf("Put while locked: err = %v, want ErrLocked", err)
	}
	if err := v.Unlock("pass"); err != nil {
		t.Fatal(err)
	}

	ref, err := v.Put(KindPassword, "hunter2")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.ID == "" || ref.Kind != KindPassword {
		t.Errorf("ref = %+v", ref)
	}

	got, err := v.Get(ref.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Get = %q, want %q", got, "hunter2")
	}

	if _, err := v.Get("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown: err = %v, want ErrNotFound", err)
	}

	if err := v.Delete(ref.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := v.Get(ref.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestVaultReopenAcrossInstances(t *testing.T) {
	t.Parallel()

	path := testVaultPath(t)
	v := New(path)
	if err := v.Init("pass"); err != nil {
		t.Fatal(err)
	}
	if err := v.Unlock("pass"); err != nil {
		t.Fatal(err)
	}
	ref, err := v.Put(KindPassword, "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	v.Lock()
	if _, err := v.Get(ref.ID); !errors.Is(err, ErrLocked) {
		t.Errorf("Get after Lock: err = %v, want ErrLocked", err)
	}

	v2 := New(path)
	if err := v2.Unlock("pass"); err != nil {
		t.Fatalf("Unlock on a second instance: %v", err)
	}
	got, err := v2.Get(ref.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Get = %q, want %q", got, "s3cret")
	}
}

func TestVaultPlaintextNotOnDisk(t *testing.T) {
	t.Parallel()

	path := testVaultPath(t)
	v := New(path)
	if err := v.Init("pass"); err != nil {
		t.Fatal(err)
	}
	if err := v.Unlock("pass"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Put(KindPassword, "visible-marker-value"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("visible-marker-value")) {
		t.Error("plaintext secret found in the vault file")
	}
}
