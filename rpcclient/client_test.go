package rpcclient

import "testing"

func TestParseReply_Success(t *testing.T) {
	reply := []interface{}{true, "<HOST_POOL></HOST_POOL>"}
	got, err := parseReply(reply)
	if err != nil {
		t.Fatalf("parseReply failed: %v", err)
	}
	if !got.Success || got.Message != "<HOST_POOL></HOST_POOL>" {
		t.Errorf("got %+v, want Success=true Message=<HOST_POOL></HOST_POOL>", got)
	}
}

func TestParseReply_Failure(t *testing.T) {
	reply := []interface{}{false, "internal error"}
	got, err := parseReply(reply)
	if err != nil {
		t.Fatalf("parseReply failed: %v", err)
	}
	if got.Success {
		t.Error("expected Success=false")
	}
	if got.Message != "internal error" {
		t.Errorf("Message = %q, want %q", got.Message, "internal error")
	}
}

func TestParseReply_TooShort(t *testing.T) {
	if _, err := parseReply([]interface{}{true}); err == nil {
		t.Fatal("expected error for short reply")
	}
}

func TestParseReply_WrongTypes(t *testing.T) {
	cases := [][]interface{}{
		{"not-a-bool", "msg"},
		{true, 42},
	}
	for _, reply := range cases {
		if _, err := parseReply(reply); err == nil {
			t.Errorf("expected error for reply %+v", reply)
		}
	}
}
