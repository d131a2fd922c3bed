package hci

// Opcode is a 16-bit HCI command opcode: OGF in the high 6 bits, OCF
// in the low 10, per the Bluetooth core spec.
type Opcode uint16

func opcode(ogf, ocf uint16) Opcode { return Opcode(ogf<<10 | ocf) }

// Command opcodes referenced by the reset sequence and the public
// adapter methods in spec.md §4.1/§4.5. This is not the full HCI
// opcode table (the teacher's linux/cmd.go enumerates several
// hundred, almost all of which this module's embedder never calls
// directly); SendCommand accepts any CommandParam, so opcodes beyond
// this table are reachable without adding a Go constant for each.
var (
	OpDisconnect              Opcode = opcode(0x01, 0x0006)
	OpReset                   Opcode = opcode(0x03, 0x0003)
	OpSetEventMask            Opcode = opcode(0x03, 0x0001)
	OpReadBufferSize          Opcode = opcode(0x04, 0x0005)
	OpHostBufferSize          Opcode = opcode(0x03, 0x0033)
	OpWriteLEHostSupported    Opcode = opcode(0x03, 0x006D)
	OpLESetEventMask          Opcode = opcode(0x08, 0x0001)
	OpLEReadBufferSize        Opcode = opcode(0x08, 0x0002)
	OpLESetAdvertisingParams  Opcode = opcode(0x08, 0x0006)
	OpLESetAdvertisingData    Opcode = opcode(0x08, 0x0008)
	OpLESetScanResponseData   Opcode = opcode(0x08, 0x0009)
	OpLESetAdvertiseEnable    Opcode = opcode(0x08, 0x000A)
	OpLESetScanParameters     Opcode = opcode(0x08, 0x000B)
	OpLESetScanEnable         Opcode = opcode(0x08, 0x000C)
	OpLECreateConnection      Opcode = opcode(0x08, 0x000D)
	OpLECreateConnCancel      Opcode = opcode(0x08, 0x000E)
	OpLEConnUpdate            Opcode = opcode(0x08, 0x0013)
	OpLEReadRemoteFeatures    Opcode = opcode(0x08, 0x0016)
	OpLELongTermKeyReqReply   Opcode = opcode(0x08, 0x001A)
	OpLELTKNegativeReply      Opcode = opcode(0x08, 0x001B)
	OpLESetPHY                Opcode = opcode(0x08, 0x0032)
	OpReadRemoteVersionInfo   Opcode = opcode(0x01, 0x001D)
)

// EventCode is a one-byte HCI event code, per spec.md §6.
type EventCode uint8

const (
	EvtDisconnectionComplete    EventCode = 0x05
	EvtEncryptionChange         EventCode = 0x08
	EvtReadRemoteVersionInfo    EventCode = 0x0C
	EvtCommandComplete          EventCode = 0x0E
	EvtCommandStatus            EventCode = 0x0F
	EvtHardwareError            EventCode = 0x10
	EvtNumberOfCompletedPkts    EventCode = 0x13
	EvtEncryptionKeyRefresh     EventCode = 0x30
	EvtLEMeta                   EventCode = 0x3E
)

// LEMetaSubevent is the subevent code inside an EvtLEMeta packet.
type LEMetaSubevent uint8

const (
	SubEvtConnectionComplete         LEMetaSubevent = 0x01
	SubEvtAdvertisingReport          LEMetaSubevent = 0x02
	SubEvtConnectionUpdateComplete   LEMetaSubevent = 0x03
	SubEvtReadRemoteFeaturesComplete LEMetaSubevent = 0x04
	SubEvtLongTermKeyRequest         LEMetaSubevent = 0x05
	SubEvtP256PublicKeyComplete      LEMetaSubevent = 0x08
	SubEvtGenerateDHKeyComplete      LEMetaSubevent = 0x09
	SubEvtEnhancedConnectionComplete LEMetaSubevent = 0x0A
	SubEvtExtendedAdvertisingReport  LEMetaSubevent = 0x0D
	SubEvtPHYUpdateComplete          LEMetaSubevent = 0x0C
)

// PacketType is the first byte of every packet on the transport.
type PacketType uint8

const (
	PktCommand PacketType = 0x01
	PktACLData PacketType = 0x02
	PktEvent   PacketType = 0x04
)

// PacketBoundary is the PB field of an ACL packet's handle-flags word.
type PacketBoundary uint8

const (
	PBFirst        PacketBoundary = 0
	PBContinuation PacketBoundary = 1
)

// L2CAP channel IDs.
const (
	CIDAttribute uint16 = 0x0004
	CIDSignaling uint16 = 0x0001
)
