package capture

import (
	"testing"
)

func TestDriverRegistry(t *testing.T) {
	RegisterVideoDriver("testv", func(path string) (VideoEncoder, error) {
		if path != "/dev/video11" {
			t.Errorf("unexpected driver path: %q", path)
		}
		return newFakeVideoEncoder(), nil
	})
	RegisterAudioDriver("testa", func(path string) (AudioSource, AudioEncoder, error) {
		return newFakeAudioSource(), newFakeAudioEncoder(), nil
	})

	if _, err := OpenVideoEncoder("testv:/dev/video11"); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenVideoEncoder("bogus:/dev/null"); err == nil {
		t.Fatal("expected error for unregistered video driver")
	}

	if !HasAudioDriver("testa") {
		t.Fatal("registered audio driver not found")
	}
	if HasAudioDriver("bogus") {
		t.Fatal("unregistered audio driver reported present")
	}
	if _, _, err := OpenAudioStack("testa:default"); err != nil {
		t.Fatal(err)
	}
}

func TestTokenRevokeIdempotent(t *testing.T) {
	tok := NewToken()
	select {
	case <-tok.Revoked():
		t.Fatal("fresh token already revoked")
	default:
	}

	tok.Revoke()
	tok.Revoke()

	select {
	case <-tok.Revoked():
	default:
		t.Fatal("revoked token not signalled")
	}
}
