package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServiceTXT creates the TXT records for a server.
func EncodeServiceTXT(info *ServiceInfo) TXTRecordMap {
	txt := StringsToTXTRecords(info.Extra)

	txt[TXTKeyVersions] = strings.Join(info.Versions, ",")
	txt[TXTKeyKernelTLS] = encodeBool(info.KernelTLS)
	if len(info.CipherSuites) > 0 {
		txt[TXTKeyCipherSuites] = strings.Join(info.CipherSuites, ",")
	}
	if info.SendFile {
		txt[TXTKeySendFile] = encodeBool(true)
	}

	return txt
}

// DecodeServiceTXT parses TXT records of a server. Unknown keys end up in
// Extra in sorted order.
func DecodeServiceTXT(txt TXTRecordMap) (*ServiceInfo, error) {
	info := &ServiceInfo{}

	ver, ok := txt[TXTKeyVersions]
	if !ok || ver == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersions)
	}
	info.Versions = splitList(ver)

	var err error
	if info.KernelTLS, err = parseBool(txt, TXTKeyKernelTLS); err != nil {
		return nil, err
	}
	if info.SendFile, err = parseBool(txt, TXTKeySendFile); err != nil {
		return nil, err
	}
	info.CipherSuites = splitList(txt[TXTKeyCipherSuites])

	for k, v := range txt {
		switch k {
		case TXTKeyVersions, TXTKeyKernelTLS, TXTKeySendFile, TXTKeyCipherSuites:
			continue
		}
		info.Extra = append(info.Extra, k+"="+v)
	}
	sort.Strings(info.Extra)

	return info, nil
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(txt TXTRecordMap, key string) (bool, error) {
	switch txt[key] {
	case "", "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, key, txt[key])
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TXTRecordsToStrings converts a TXTRecordMap to a sorted slice of
// "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
