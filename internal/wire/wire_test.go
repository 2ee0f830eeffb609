package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []message.Message{
		&message.PreAccept{
			Instance: instance.Instance{LeaderIndex: 1, InstanceNumber: 2},
			Ballot:   ballot.Default(1),
			CommandOrNoop: instance.CommandOrNoop{Command: instance.Command{
				ClientAddress: "c", ClientID: 9, Payload: []byte("SET"),
			}},
			Seq:  3,
			Deps: instance.NewSet(instance.Instance{LeaderIndex: 0, InstanceNumber: 0}),
		},
		&message.Commit{
			Instance:      instance.Instance{LeaderIndex: 2, InstanceNumber: 5},
			CommandOrNoop: instance.CommandOrNoop{Noop: true},
			Seq:           1,
			Deps:          instance.NewSet(),
		},
		&message.Nack{Instance: instance.Instance{LeaderIndex: 0, InstanceNumber: 1}, LargestBallot: ballot.Default(2)},
		&message.ClientRequest{ClientAddress: "client-1", ClientID: 4, Payload: []byte("GET k")},
		&message.ClientReply{ClientID: 4, Result: []byte("OK")},
	}

	for _, want := range cases {
		payload, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%T): %v", want, err)
		}
		got, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode(%T): %v", want, err)
		}
		if !messagesEqual(t, want, got) {
			t.Errorf("round trip mismatch: want %+v, got %+v", want, got)
		}
	}
}

func TestWriteReadFrame(t *testing.T) {
	buf := &bytes.Buffer{}
	w := bufio.NewWriter(buf)

	msg := &message.AcceptOk{Instance: instance.Instance{LeaderIndex: 1, InstanceNumber: 0}, Ballot: ballot.Default(1), ReplicaIndex: 3}
	if err := WriteFrame(w, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := bufio.NewReader(buf)
	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	gotMsg, ok := got.(*message.AcceptOk)
	if !ok || *gotMsg != *msg {
		t.Errorf("ReadFrame = %+v, want %+v", got, msg)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // size = maxuint32, well past maxFrameBytes
	if _, err := ReadFrame(bufio.NewReader(buf)); err == nil {
		t.Fatal("ReadFrame accepted an oversized frame length")
	}
}

func TestReadFrameReportsTruncatedBody(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{10, 0, 0, 0}) // claims 10 bytes, supplies none
	if _, err := ReadFrame(bufio.NewReader(buf)); err == nil {
		t.Fatal("ReadFrame accepted a truncated frame body")
	}
}

func messagesEqual(t *testing.T, want, got message.Message) bool {
	t.Helper()
	switch w := want.(type) {
	case *message.PreAccept:
		g, ok := got.(*message.PreAccept)
		return ok && w.Instance == g.Instance && w.Ballot == g.Ballot && w.Seq == g.Seq &&
			w.CommandOrNoop.Command.ClientAddress == g.CommandOrNoop.Command.ClientAddress &&
			bytes.Equal(w.CommandOrNoop.Command.Payload, g.CommandOrNoop.Command.Payload) &&
			w.Deps.Key() == g.Deps.Key()
	case *message.Commit:
		g, ok := got.(*message.Commit)
		return ok && w.Instance == g.Instance && w.Seq == g.Seq &&
			w.CommandOrNoop.Noop == g.CommandOrNoop.Noop && w.Deps.Key() == g.Deps.Key()
	case *message.Nack:
		g, ok := got.(*message.Nack)
		return ok && w.Instance == g.Instance && w.LargestBallot == g.LargestBallot
	case *message.ClientRequest:
		g, ok := got.(*message.ClientRequest)
		return ok && w.ClientAddress == g.ClientAddress && w.ClientID == g.ClientID && bytes.Equal(w.Payload, g.Payload)
	case *message.ClientReply:
		g, ok := got.(*message.ClientReply)
		return ok && w.ClientID == g.ClientID && bytes.Equal(w.Result, g.Result)
	default:
		t.Fatalf("messagesEqual: unhandled case %T", want)
		return false
	}
}
