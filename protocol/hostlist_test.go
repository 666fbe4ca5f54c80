package protocol

import (
	"strings"
	"testing"

	"github.com/onecloudio/onemonitord/hostpool"
)

func TestSerializeHostList_IncludesEveryHost(t *testing.T) {
	pool := hostpool.New()
	if err := pool.InsertFromXML(sampleHostXML); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body := string(serializeHostList(pool))
	if !strings.HasPrefix(body, "<HOST_POOL>") || !strings.HasSuffix(body, "</HOST_POOL>") {
		t.Fatalf("expected a HOST_POOL wrapper, got %q", body)
	}
	if !strings.Contains(body, "<ID>7</ID>") || !strings.Contains(body, "<NAME>host7</NAME>") {
		t.Errorf("expected host 7 fields present, got %q", body)
	}
}

func TestSerializeHostList_EmptyPoolProducesEmptyWrapper(t *testing.T) {
	pool := hostpool.New()
	body := string(serializeHostList(pool))
	if body != "<HOST_POOL></HOST_POOL>" {
		t.Errorf("expected an empty wrapper, got %q", body)
	}
}
