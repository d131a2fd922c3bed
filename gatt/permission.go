// Package gatt implements the Generic Attribute Profile server and
// client described by spec.md §4.3/§4.4, built on the ATT
// request/response engine of §4.2 and the attribute database model
// of §3.
package gatt

import "github.com/nsriram/blehost/att"

// Permission is the access-control policy of an attribute's read or
// write side, per spec.md §3.
type Permission int

const (
	NotPermitted Permission = iota
	Open
	Encrypted
	EncryptedMITM
	EncryptedMITMSC
	Custom
)

// EncryptionLevel mirrors the security-layer state the core consults
// but does not own, per spec.md §1: Out of scope includes "the
// cryptographic pairing state machine (SMP) beyond the flags the
// core consults".
type EncryptionLevel int

const (
	EncNone EncryptionLevel = iota
	EncUnauthenticated
	EncAuthenticatedMITM
	EncAuthenticatedSC
)

// Security is the minimal view of a connection's pairing state the
// permission checker needs, per spec.md §1/§4.2.
type Security interface {
	IsBonded() bool
	IsEncrypted() bool
	CurrentEncryptionLevel() EncryptionLevel
	HasStoredLTK() bool
}

// checkPermission implements spec.md §4.2's permission check table.
// isRead selects between the READ_NOT_PERMITTED and
// WRITE_NOT_PERMITTED branches of the NotPermitted case.
func checkPermission(p Permission, sec Security, isRead bool) att.Error {
	switch p {
	case Open, Custom:
		return att.Success
	case NotPermitted:
		if isRead {
			return att.ErrReadNotPermitted
		}
		return att.ErrWriteNotPermitted
	case Encrypted, EncryptedMITM, EncryptedMITMSC:
		if !sec.IsEncrypted() {
			if sec.HasStoredLTK() {
				return att.ErrInsufficientEnc
			}
			return att.ErrInsufficientAuth
		}
		lvl := sec.CurrentEncryptionLevel()
		switch p {
		case EncryptedMITM:
			if lvl < EncAuthenticatedMITM {
				return att.ErrInsufficientAuth
			}
		case EncryptedMITMSC:
			if lvl < EncAuthenticatedSC {
				return att.ErrInsufficientAuth
			}
		}
		return att.Success
	default:
		return att.ErrUnlikely
	}
}
