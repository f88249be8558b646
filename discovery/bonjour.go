package discovery

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"

	"wifip2p/models"
)

const (
	// dnssdVersion is the Bonjour service-discovery protocol version byte.
	dnssdVersion = 0x01
	// upnpVersion is the UPnP service-discovery protocol version byte.
	upnpVersion = 0x10

	// responseNameOffset is where the response query name sits in the
	// virtual packet the supplicant compresses against.
	responseNameOffset = 0x27
)

// Service-discovery payloads compress names against a fixed dictionary
// placed in a virtual DNS packet, not against the payload itself.
var compressionDictionary = map[string]int{
	"_tcp.local.": 0x0c,
	"local.":      0x11,
	"_udp.local.": 0x1c,
}

var (
	errShortPayload = errors.New("service discovery payload too short")

	labelUnescaper = strings.NewReplacer(`\ `, " ", `\.`, ".", `\\`, `\`, `\"`, `"`, `\(`, "(", `\)`, ")", `\;`, ";", `\@`, "@", `\'`, "'")
)

// NewDNSSDRequest builds a Bonjour query. With an empty instance it asks
// for every instance of serviceType (PTR), otherwise for the TXT record of
// that one instance.
func NewDNSSDRequest(instance, serviceType string) (models.ServiceRequest, error) {
	if strings.TrimSpace(serviceType) == "" {
		return models.ServiceRequest{}, errors.New("service type is required")
	}

	name, dnsType := serviceName(serviceType), dns.TypePTR
	if instance != "" {
		name, dnsType = instance+"."+name, dns.TypeTXT
	}
	query, err := dnssdQuery(name, dnsType)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	return models.ServiceRequest{
		Protocol: models.ServiceProtocolBonjour,
		Query:    hex.EncodeToString(query),
	}, nil
}

// NewUPnPRequest builds a UPnP query for the search target st, e.g. "ssdp:all".
func NewUPnPRequest(st string) (models.ServiceRequest, error) {
	if strings.TrimSpace(st) == "" {
		return models.ServiceRequest{}, errors.New("search target is required")
	}
	payload := append([]byte{upnpVersion}, st...)
	return models.ServiceRequest{
		Protocol: models.ServiceProtocolUPnP,
		Query:    hex.EncodeToString(payload),
	}, nil
}

// NewAllServicesRequest asks peers for every service over every protocol.
func NewAllServicesRequest() models.ServiceRequest {
	return models.ServiceRequest{Protocol: models.ServiceProtocolAll}
}

// NewDNSSDServiceInfo builds the driver entries advertising one Bonjour
// instance: a PTR record for the service type and a TXT record for the
// instance.
func NewDNSSDServiceInfo(instance, serviceType string, txt map[string]string) (models.ServiceInfo, error) {
	if strings.TrimSpace(instance) == "" {
		return models.ServiceInfo{}, errors.New("instance name is required")
	}
	if strings.TrimSpace(serviceType) == "" {
		return models.ServiceInfo{}, errors.New("service type is required")
	}
	if strings.Contains(instance, ".") || len(instance) > 63 {
		return models.ServiceInfo{}, fmt.Errorf("instance name %q must be a single label", instance)
	}

	name := serviceName(serviceType)
	ptrQuery, err := dnssdQuery(name, dns.TypePTR)
	if err != nil {
		return models.ServiceInfo{}, err
	}
	txtQuery, err := dnssdQuery(instance+"."+name, dns.TypeTXT)
	if err != nil {
		return models.ServiceInfo{}, err
	}

	// PTR rdata is the instance label followed by a pointer to the query name.
	ptrData := append([]byte{byte(len(instance))}, instance...)
	ptrData = binary.BigEndian.AppendUint16(ptrData, 0xc000|responseNameOffset)

	txtData, err := encodeTXT(txt)
	if err != nil {
		return models.ServiceInfo{}, err
	}

	return models.ServiceInfo{Entries: []string{
		fmt.Sprintf("bonjour %s %s", hex.EncodeToString(ptrQuery), hex.EncodeToString(ptrData)),
		fmt.Sprintf("bonjour %s %s", hex.EncodeToString(txtQuery), hex.EncodeToString(txtData)),
	}}, nil
}

// NewUPnPServiceInfo builds the driver entries advertising a UPnP root
// device and its services.
func NewUPnPServiceInfo(uuid, device string, services []string) (models.ServiceInfo, error) {
	if strings.TrimSpace(uuid) == "" || strings.TrimSpace(device) == "" {
		return models.ServiceInfo{}, errors.New("uuid and device are required")
	}
	prefix := fmt.Sprintf("upnp %02x uuid:%s", upnpVersion, uuid)
	entries := []string{
		prefix,
		prefix + "::upnp:rootdevice",
		prefix + "::" + device,
	}
	for _, svc := range services {
		entries = append(entries, prefix+"::"+svc)
	}
	return models.ServiceInfo{Entries: entries}, nil
}

// DNSSDResponse is a decoded Bonjour service-discovery answer.
type DNSSDResponse struct {
	QueryName string
	Type      uint16
	Version   byte
	// Instance is set for PTR answers.
	Instance string
	// TXT is set for TXT answers.
	TXT map[string]string
}

// ParseDNSSDResponse decodes the data of a Bonjour service response.
func ParseDNSSDResponse(data []byte) (DNSSDResponse, error) {
	msg := append(virtualPacket(), data...)

	queryName, off, err := dns.UnpackDomainName(msg, responseNameOffset)
	if err != nil {
		return DNSSDResponse{}, fmt.Errorf("unpack query name: %w", err)
	}
	if len(msg) < off+3 {
		return DNSSDResponse{}, errShortPayload
	}
	resp := DNSSDResponse{
		QueryName: queryName,
		Type:      binary.BigEndian.Uint16(msg[off:]),
		Version:   msg[off+2],
	}
	if resp.Version != dnssdVersion {
		return DNSSDResponse{}, fmt.Errorf("unsupported bonjour version %d", resp.Version)
	}
	off += 3

	switch resp.Type {
	case dns.TypePTR:
		rdata, _, err := dns.UnpackDomainName(msg, off)
		if err != nil {
			return DNSSDResponse{}, fmt.Errorf("unpack ptr rdata: %w", err)
		}
		if len(rdata) <= len(queryName) || !strings.HasSuffix(rdata, "."+queryName) {
			return DNSSDResponse{}, fmt.Errorf("ptr rdata %q is not an instance of %q", rdata, queryName)
		}
		resp.Instance = labelUnescaper.Replace(strings.TrimSuffix(rdata, "."+queryName))
	case dns.TypeTXT:
		txt, err := decodeTXT(msg[off:])
		if err != nil {
			return DNSSDResponse{}, err
		}
		resp.TXT = txt
	default:
		return DNSSDResponse{}, fmt.Errorf("unsupported bonjour record type %s", dns.TypeToString[resp.Type])
	}
	return resp, nil
}

// UPnPResponse is a decoded UPnP service-discovery answer.
type UPnPResponse struct {
	Version  byte
	UUID     string
	Services []string
}

// ParseUPnPResponse decodes a UPnP response: a version byte then a comma
// separated USN list.
func ParseUPnPResponse(data []byte) (UPnPResponse, error) {
	if len(data) < 1 {
		return UPnPResponse{}, errShortPayload
	}
	resp := UPnPResponse{Version: data[0]}
	for _, usn := range strings.Split(string(data[1:]), ",") {
		usn = strings.TrimSpace(usn)
		if !strings.HasPrefix(usn, "uuid:") {
			continue
		}
		id, svc, _ := strings.Cut(strings.TrimPrefix(usn, "uuid:"), "::")
		if resp.UUID == "" {
			resp.UUID = id
		}
		if svc != "" {
			resp.Services = append(resp.Services, svc)
		}
	}
	if resp.UUID == "" {
		return UPnPResponse{}, errors.New("upnp response carries no uuid")
	}
	return resp, nil
}

func serviceName(serviceType string) string {
	return dns.Fqdn(strings.TrimSuffix(serviceType, ".") + ".local")
}

// dnssdQuery renders name (compressed against the dictionary), type and version.
func dnssdQuery(name string, dnsType uint16) ([]byte, error) {
	compression := make(map[string]int, len(compressionDictionary))
	for k, v := range compressionDictionary {
		compression[k] = v
	}
	buf := make([]byte, 256)
	off, err := dns.PackDomainName(dns.Fqdn(name), buf, 0, compression, true)
	if err != nil {
		return nil, fmt.Errorf("pack domain name %q: %w", name, err)
	}
	buf = binary.BigEndian.AppendUint16(buf[:off], dnsType)
	return append(buf, dnssdVersion), nil
}

// virtualPacket lays out the dictionary names at their fixed offsets and pads
// to where the response data starts.
func virtualPacket() []byte {
	msg := make([]byte, responseNameOffset)
	if _, err := dns.PackDomainName("_tcp.local.", msg, 0x0c, nil, false); err != nil {
		panic(err)
	}
	msg[0x1c] = 4
	copy(msg[0x1d:], "_udp")
	binary.BigEndian.PutUint16(msg[0x21:], 0xc000|0x11)
	return msg
}

func encodeTXT(txt map[string]string) ([]byte, error) {
	if len(txt) == 0 {
		return []byte{0}, nil
	}
	keys := make([]string, 0, len(txt))
	for k := range txt {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0, 64)
	for _, k := range keys {
		entry := k + "=" + txt[k]
		if k == "" || len(entry) > 255 {
			return nil, fmt.Errorf("invalid txt entry %q", entry)
		}
		out = append(out, byte(len(entry)))
		out = append(out, entry...)
	}
	return out, nil
}

func decodeTXT(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	for len(data) > 0 {
		n := int(data[0])
		if len(data) < n+1 {
			return nil, errShortPayload
		}
		entry := string(data[1 : n+1])
		data = data[n+1:]
		if entry == "" {
			continue
		}
		k, v, _ := strings.Cut(entry, "=")
		out[k] = v
	}
	return out, nil
}
