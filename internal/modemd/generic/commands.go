// Package generic implements a 3GPP modem driver that speaks only standard
// AT commands (3GPP TS 27.007 and V.250).
package generic

// V.250 basics
const (
	ATZ  = "ATZ"       // Reset to profile 0
	ATE0 = "ATE0"      // Echo off
	ATV1 = "ATV1"      // Verbose result codes
	ATF  = "AT&F"      // Factory defaults
	CMEE = "AT+CMEE=1" // Numeric +CME ERROR codes
)

// Identification
const (
	CGMI = "AT+CGMI" // Manufacturer
	CGMM = "AT+CGMM" // Model
	CGMR = "AT+CGMR" // Revision
	CGSN = "AT+CGSN" // IMEI
	GCAP = "AT+GCAP" // Capabilities list
)

// Functionality and SIM
const (
	CFUNFull      = "AT+CFUN=1"
	CFUNLowPower  = "AT+CFUN=4"
	CFUNReset     = "AT+CFUN=1,1"
	CPINQuery     = "AT+CPIN?"
	CSCSQuery     = "AT+CSCS?"
	CSCSSupported = "AT+CSCS=?"
)

// Network
const (
	CSQ           = "AT+CSQ"
	CREGQuery     = "AT+CREG?"
	CGREGQuery    = "AT+CGREG?"
	CEREGQuery    = "AT+CEREG?"
	COPSQuery     = "AT+COPS?"
	COPSNumeric   = "AT+COPS=3,2"
	COPSAlpha     = "AT+COPS=3,0"
	COPSAutomatic = "AT+COPS=0"
	WS46Supported = "AT+WS46=?"
	CINDSupported = "AT+CIND=?"
	CMEREnable    = "AT+CMER=3,0,0,1"
	CMERDisable   = "AT+CMER=0"
)

// Response prefixes
const (
	PrefixCPIN  = "+CPIN:"
	PrefixCSQ   = "+CSQ:"
	PrefixCREG  = "+CREG:"
	PrefixCGREG = "+CGREG:"
	PrefixCEREG = "+CEREG:"
	PrefixCOPS  = "+COPS:"
	PrefixCSCS  = "+CSCS:"
	PrefixCIND  = "+CIND:"
	PrefixCIEV  = "+CIEV:"
	PrefixWS46  = "+WS46:"
	PrefixGCAP  = "+GCAP:"
)
