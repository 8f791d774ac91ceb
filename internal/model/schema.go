package model

// Property is one capability the remote database must expose for records to
// be mirrored. The set is closed: see [RequiredSchema].
type Property int

const (
	// PropertyText holds the transcription text.
	PropertyText Property = iota
	// PropertyTimestamp holds the transcription creation time.
	PropertyTimestamp
	// PropertyDuration holds the recording length in seconds.
	PropertyDuration
	// PropertyDedupKey holds the source record ID and is used to detect
	// records that were already mirrored.
	PropertyDedupKey
)

// PropertyKind is the remote column type a [Property] requires.
type PropertyKind string

const (
	KindRichText PropertyKind = "rich_text"
	KindDate     PropertyKind = "date"
	KindNumber   PropertyKind = "number"
)

// Name returns the remote property name.
func (p Property) Name() string {
	switch p {
	case PropertyText:
		return "Text"
	case PropertyTimestamp:
		return "Timestamp"
	case PropertyDuration:
		return "Duration"
	case PropertyDedupKey:
		return "VoiceInk ID"
	default:
		return ""
	}
}

// Kind returns the remote type the property must have.
func (p Property) Kind() PropertyKind {
	switch p {
	case PropertyTimestamp:
		return KindDate
	case PropertyDuration:
		return KindNumber
	default:
		return KindRichText
	}
}

// String implements fmt.Stringer.
func (p Property) String() string {
	return p.Name()
}

// RequiredSchema returns every property the remote database must have, in a
// stable order.
func RequiredSchema() []Property {
	return []Property{PropertyText, PropertyTimestamp, PropertyDuration, PropertyDedupKey}
}
