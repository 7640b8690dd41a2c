package models

// Concept is one row of the clinical-concept dictionary.
type Concept struct {
	ConceptID   int64
	ClassID     int
	DatatypeID  int
	Retired     int
	IsSet       int
	Creator     int
	DateCreated string
	UUID        string
}

type ConceptName struct {
	ConceptNameID   int64
	ConceptID       int64
	Name            string
	Locale          string
	ConceptNameType string
	Creator         int
	DateCreated     string
	Voided          int
	UUID            string
}

// ConceptReferenceTerm binds an external terminology code to a source.
type ConceptReferenceTerm struct {
	ConceptReferenceTermID int64
	ConceptSourceID        int
	Code                   string
	Creator                int
	DateCreated            string
	Retired                int
	UUID                   string
}

// ConceptReferenceMap links a concept to exactly one reference term.
type ConceptReferenceMap struct {
	ConceptReferenceMapID  int64
	ConceptReferenceTermID int64
	ConceptMapTypeID       int
	ConceptID              int64
	Creator                int
	DateCreated            string
	UUID                   string
}

type ConceptSetMember struct {
	ConceptSetID int64
	ConceptSet   int
	ConceptID    int64
	Creator      int
	DateCreated  string
	UUID         string
}
