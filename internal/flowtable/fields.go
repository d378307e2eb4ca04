package flowtable

import (
	"FlowSentry/internal/model"
	"fmt"
	"strconv"
	"time"
)

// Record field names used by the store-backed table.
const (
	fieldAEndpoint      = "a_endpoint"
	fieldZEndpoint      = "z_endpoint"
	fieldAToZBytes      = "a_to_z_bytes"
	fieldZToABytes      = "z_to_a_bytes"
	fieldAToZPackets    = "a_to_z_packets"
	fieldZToAPackets    = "z_to_a_packets"
	fieldAToZSynCounter = "a_to_z_syn_counter"
	fieldZToASynCounter = "z_to_a_syn_counter"
	fieldAToZLastSeq    = "a_to_z_last_seq"
	fieldAToZLastAck    = "a_to_z_last_ack"
	fieldZToALastSeq    = "z_to_a_last_seq"
	fieldZToALastAck    = "z_to_a_last_ack"
	fieldFirstSeen      = "first_seen"
	fieldLastSeen       = "last_seen"
)

// directionFields names the per-direction fields touched by one datagram.
type directionFields struct {
	bytes, packets, syn, seq, ack string
}

func fieldsFor(dir model.Direction) directionFields {
	if dir == model.AToZ {
		return directionFields{fieldAToZBytes, fieldAToZPackets, fieldAToZSynCounter, fieldAToZLastSeq, fieldAToZLastAck}
	}
	return directionFields{fieldZToABytes, fieldZToAPackets, fieldZToASynCounter, fieldZToALastSeq, fieldZToALastAck}
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

// encodeState flattens a state into the record stored under its key.
func encodeState(s model.ConnectionState) map[string]string {
	return map[string]string{
		fieldAEndpoint:      s.AEndpoint.String(),
		fieldZEndpoint:      s.ZEndpoint.String(),
		fieldAToZBytes:      formatUint(s.AToZBytes),
		fieldZToABytes:      formatUint(s.ZToABytes),
		fieldAToZPackets:    formatUint(s.AToZPackets),
		fieldZToAPackets:    formatUint(s.ZToAPackets),
		fieldAToZSynCounter: formatUint(uint64(s.AToZSynCounter)),
		fieldZToASynCounter: formatUint(uint64(s.ZToASynCounter)),
		fieldAToZLastSeq:    formatUint(uint64(s.AToZLastSeq)),
		fieldAToZLastAck:    formatUint(uint64(s.AToZLastAck)),
		fieldZToALastSeq:    formatUint(uint64(s.ZToALastSeq)),
		fieldZToALastAck:    formatUint(uint64(s.ZToALastAck)),
		fieldFirstSeen:      formatTime(s.FirstSeen),
		fieldLastSeen:       formatTime(s.LastSeen),
	}
}

// decodeState rebuilds a state from a stored record. Missing counters read as zero.
func decodeState(key string, fields map[string]string) (model.ConnectionState, error) {
	s := model.ConnectionState{Key: key}
	var err error

	if s.AEndpoint, err = parseEndpoint(fields[fieldAEndpoint]); err != nil {
		return s, fmt.Errorf("%s: %w", fieldAEndpoint, err)
	}
	if s.ZEndpoint, err = parseEndpoint(fields[fieldZEndpoint]); err != nil {
		return s, fmt.Errorf("%s: %w", fieldZEndpoint, err)
	}

	u64 := []struct {
		name string
		dst  *uint64
	}{
		{fieldAToZBytes, &s.AToZBytes}, {fieldZToABytes, &s.ZToABytes},
		{fieldAToZPackets, &s.AToZPackets}, {fieldZToAPackets, &s.ZToAPackets},
	}
	for _, f := range u64 {
		if *f.dst, err = parseUint(fields[f.name], 64); err != nil {
			return s, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	u32 := []struct {
		name string
		dst  *uint32
	}{
		{fieldAToZSynCounter, &s.AToZSynCounter}, {fieldZToASynCounter, &s.ZToASynCounter},
		{fieldAToZLastSeq, &s.AToZLastSeq}, {fieldAToZLastAck, &s.AToZLastAck},
		{fieldZToALastSeq, &s.ZToALastSeq}, {fieldZToALastAck, &s.ZToALastAck},
	}
	for _, f := range u32 {
		v, err := parseUint(fields[f.name], 32)
		if err != nil {
			return s, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = uint32(v)
	}

	if s.FirstSeen, err = parseTime(fields[fieldFirstSeen]); err != nil {
		return s, fmt.Errorf("%s: %w", fieldFirstSeen, err)
	}
	if s.LastSeen, err = parseTime(fields[fieldLastSeen]); err != nil {
		return s, fmt.Errorf("%s: %w", fieldLastSeen, err)
	}
	return s, nil
}

func parseUint(s string, bits int) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, bits)
}

func parseTime(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ns), nil
}

// parseEndpoint splits "ip:port" at the last colon.
func parseEndpoint(s string) (model.Endpoint, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			port, err := strconv.ParseUint(s[i+1:], 10, 16)
			if err != nil {
				return model.Endpoint{}, fmt.Errorf("invalid port in '%s': %w", s, err)
			}
			return model.Endpoint{IP: s[:i], Port: uint16(port)}, nil
		}
	}
	return model.Endpoint{}, fmt.Errorf("invalid endpoint '%s'", s)
}
