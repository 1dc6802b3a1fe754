package msc

// Interface triple announced by a mass storage function. The USB engine
// that owns the descriptors uses these.
const (
	ClassMSC         = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI transparent command set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport
)

// Bulk-Only Transport class requests.
const (
	RequestBulkOnlyMassStorageReset = 0xFF
	RequestGetMaxLUN                = 0xFE
)

// Command Block Wrapper.
const (
	CBWSignature   = 0x43425355 // "USBC"
	CBWSize        = 31
	CBWFlagDataOut = 0x00
	CBWFlagDataIn  = 0x80
	CBWMaxCBLength = 16
)

// Command Status Wrapper.
const (
	CSWSignature        = 0x53425355 // "USBS"
	CSWSize             = 13
	CSWStatusGood       = 0x00
	CSWStatusFailed     = 0x01
	CSWStatusPhaseError = 0x02
)

// SCSI operation codes.
const (
	SCSITestUnitReady        = 0x00
	SCSIRequestSense         = 0x03
	SCSIInquiry              = 0x12
	SCSIModeSense6           = 0x1A
	SCSIStartStopUnit        = 0x1B
	SCSIPreventAllowRemoval  = 0x1E
	SCSIReadFormatCapacities = 0x23
	SCSIReadCapacity10       = 0x25
	SCSIRead10               = 0x28
	SCSIWrite10              = 0x2A
	SCSIVerify10             = 0x2F
	SCSISynchronizeCache10   = 0x35
	SCSIModeSense10          = 0x5A
	SCSIRead16               = 0x88
	SCSIWrite16              = 0x8A
	SCSIServiceActionIn16    = 0x9E
)

// Service actions of SERVICE ACTION IN (16).
const (
	ServiceActionReadCapacity16 = 0x10
)

// Sense keys.
const (
	SenseNoSense        = 0x00
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseUnitAttention  = 0x06
	SenseDataProtect    = 0x07
)

// Additional sense codes.
const (
	ASCNoAdditionalInfo      = 0x00
	ASCWriteFault            = 0x03 // Peripheral device write fault
	ASCUnrecoveredReadError  = 0x11
	ASCInvalidCommand        = 0x20 // Invalid command operation code
	ASCLBAOutOfRange         = 0x21
	ASCInvalidFieldInCDB     = 0x24
	ASCWriteProtected        = 0x27
	ASCNotReadyToReadyChange = 0x28
	ASCMediumNotPresent      = 0x3A
	ASCInternalTargetFailure = 0x44
)

// Peripheral device type of a direct access block device.
const DeviceTypeDisk = 0x00

// INQUIRY data.
const (
	InquiryStandardSize      = 36
	InquiryVersionSPC4       = 0x06
	InquiryResponseFormatSPC = 0x02
	InquiryRMB               = 0x80 // Removable medium
)

// MODE SENSE.
const (
	ModePageCachingParameters = 0x08
	ModePageAllPages          = 0x3F
	ModeSenseWP               = 0x80 // Write protect bit of the device-specific parameter
)

// Fixed-format sense data.
const (
	SenseResponseCurrent = 0x70
	SenseDataSize        = 18
)

// DefaultBlockSize is the logical block size of a disk.
const DefaultBlockSize = 512

// MaxTransferSize is the largest data phase buffered at once. Longer
// READ and WRITE transfers are split into chunks of this size.
const MaxTransferSize = 65536
