package domain

// CorrespondentKind tags the party on the other side of a conversation.
type CorrespondentKind string

const (
	CorrespondentDoctor  CorrespondentKind = "doctor"
	CorrespondentPatient CorrespondentKind = "patient"
	// CorrespondentPending is a chat request that has not been accepted
	// yet; its ID is the request id, not a user id.
	CorrespondentPending CorrespondentKind = "pending-request"
)

// Correspondent identifies who a conversation is with. The kind is decided
// once, when the conversation opens, instead of probing for whichever id
// field happens to be present on every send.
type Correspondent struct {
	Kind CorrespondentKind
	ID   string
}

func Doctor(id string) Correspondent {
	return Correspondent{Kind: CorrespondentDoctor, ID: id}
}

func Patient(id string) Correspondent {
	return Correspondent{Kind: CorrespondentPatient, ID: id}
}

func PendingRequest(id string) Correspondent {
	return Correspondent{Kind: CorrespondentPending, ID: id}
}
