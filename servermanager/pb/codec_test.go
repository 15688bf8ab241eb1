package pb

import "testing"

func TestCodecName(t *testing.T) {
	if got := (Codec{}).Name(); got != "json" {
		t.Fatalf("got %q, want json", got)
	}
}

func TestCodecMarshalUnmarshalRoundTrips(t *testing.T) {
	want := &AdvanceStateRequest{
		SessionID:        "s1",
		ActiveEpochIndex: 3,
		Sender:           "0xabc",
		Payload:          HexBytes{0x01, 0x02},
	}
	c := Codec{}
	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got AdvanceStateRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.SessionID != want.SessionID || got.ActiveEpochIndex != want.ActiveEpochIndex {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if string(got.Payload) != string(want.Payload) {
		t.Fatalf("got payload %x, want %x", got.Payload, want.Payload)
	}
}

func TestCodecUnmarshalRejectsMalformedJSON(t *testing.T) {
	c := Codec{}
	var out GetStatusResponse
	if err := c.Unmarshal([]byte("not json"), &out); err == nil {
		t.Fatal("expected unmarshal error for malformed JSON")
	}
}
