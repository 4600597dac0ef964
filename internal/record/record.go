// Package record builds and persists the metadata record of one original message.
package record

import (
	"github.com/jarrod-lowe/inbound-mail-sync/internal/blob"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/message"
)

// EmailRecord is the unit written to the relational store. It is serialized
// as the single parameter of the stored procedure.
type EmailRecord struct {
	From        string             `json:"from"`
	To          string             `json:"to"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html"`
	Text        string             `json:"text"`
	MessageID   string             `json:"messageId"`
	InReplyTo   string             `json:"inReplyTo"`
	Cc          string             `json:"cc,omitempty"`
	Bcc         string             `json:"bcc,omitempty"`
	Attachments []blob.StoredAsset `json:"attachments"`
}

// New builds the record for orig and the assets published for it.
func New(orig *message.OriginalMessage, manifest []blob.StoredAsset) *EmailRecord {
	if manifest == nil {
		manifest = []blob.StoredAsset{}
	}
	return &EmailRecord{
		From:        orig.From,
		To:          orig.Recipient(),
		Subject:     orig.Subject,
		HTML:        orig.HTML,
		Text:        orig.Text,
		MessageID:   orig.MessageID,
		InReplyTo:   orig.InReplyTo,
		Cc:          orig.Cc,
		Bcc:         orig.Bcc,
		Attachments: manifest,
	}
}
