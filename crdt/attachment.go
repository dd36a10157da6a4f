package crdt

import "time"

// Metadata describes a binary attachment referenced by a document field:
// the large bytes themselves live in storage.BlobStore, addressed by Hash,
// so they never have to travel inside a sync message.
type Metadata struct {
	Hash      string `json:"hash"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mime_type"`
	CreatedAt int64  `json:"created_at"`
}

// Attachment is a specialized LWW-register over Metadata. Content changes
// (a new Hash) and renames (Name only) are both just a new LWW write —
// there's no separate "content changed" op.
type Attachment struct {
	Register *LWWRegister
}

// NewAttachment creates an Attachment seeded with meta, timestamped now.
func NewAttachment(meta Metadata) *Attachment {
	return &Attachment{
		Register: NewLWWRegister(meta, time.Now().UnixNano()),
	}
}

func (f *Attachment) Apply(op Op) error {
	return f.Register.Apply(op)
}

func (f *Attachment) Value() interface{} {
	return f.Register.Value()
}

func (f *Attachment) Type() Type { return TypeAttachment }

// NewAttachmentOp builds the LWWOp that sets an attachment's metadata.
func NewAttachmentOp(origin string, meta Metadata, ts int64) Op {
	return LWWOp{
		OriginID: origin,
		Value:    meta,
		Ts:       ts,
	}
}
