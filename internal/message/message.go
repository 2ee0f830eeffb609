// Package message defines the typed message API the core consumes.
// Wire framing and transport are deliberately out of scope here; these
// are the Go values a Transport implementation produces and consumes.
package message

import (
	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/instance"
)

// Message is the marker interface every wire message implements so a
// Transport can move them opaquely.
type Message interface {
	isMessage()
}

// PrepareStatus is the status a PrepareOk reports for the instance it
// found.
type PrepareStatus int

const (
	NotSeen PrepareStatus = iota
	WasPreAccepted
	WasAccepted
)

func (s PrepareStatus) String() string {
	switch s {
	case NotSeen:
		return "NotSeen"
	case WasPreAccepted:
		return "PreAccepted"
	case WasAccepted:
		return "Accepted"
	default:
		return "Unknown"
	}
}

type PreAccept struct {
	Instance      instance.Instance
	Ballot        ballot.Ballot
	CommandOrNoop instance.CommandOrNoop
	Seq           int32
	Deps          instance.Set
}

type PreAcceptOk struct {
	Instance     instance.Instance
	Ballot       ballot.Ballot
	ReplicaIndex int32
	Seq          int32
	Deps         instance.Set
}

type Accept struct {
	Instance      instance.Instance
	Ballot        ballot.Ballot
	CommandOrNoop instance.CommandOrNoop
	Seq           int32
	Deps          instance.Set
}

type AcceptOk struct {
	Instance     instance.Instance
	Ballot       ballot.Ballot
	ReplicaIndex int32
}

type Commit struct {
	Instance      instance.Instance
	CommandOrNoop instance.CommandOrNoop
	Seq           int32
	Deps          instance.Set
}

type Prepare struct {
	Instance instance.Instance
	Ballot   ballot.Ballot
}

type PrepareOk struct {
	Instance      instance.Instance
	Ballot        ballot.Ballot
	ReplicaIndex  int32
	VoteBallot    ballot.Ballot
	Status        PrepareStatus
	CommandOrNoop instance.CommandOrNoop
	Seq           int32
	Deps          instance.Set
}

type Nack struct {
	Instance      instance.Instance
	LargestBallot ballot.Ballot
}

type ClientRequest struct {
	ClientAddress   string
	ClientPseudonym int64
	ClientID        int64
	Payload         []byte
}

type ClientReply struct {
	ClientPseudonym int64
	ClientID        int64
	Result          []byte
}

func (*PreAccept) isMessage()     {}
func (*PreAcceptOk) isMessage()   {}
func (*Accept) isMessage()        {}
func (*AcceptOk) isMessage()      {}
func (*Commit) isMessage()        {}
func (*Prepare) isMessage()       {}
func (*PrepareOk) isMessage()     {}
func (*Nack) isMessage()          {}
func (*ClientRequest) isMessage() {}
func (*ClientReply) isMessage()   {}
