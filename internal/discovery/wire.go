package discovery

import (
	"fmt"
	"strings"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/miekg/dns"
)

const (
	serviceLabel  = "_gigi-dns._udp.local."
	multicastIPv4 = "224.0.0.251"
	multicastIPv6 = "ff02::fb"
	multicastPort = 7173
	maxRecordSize = 4096

	// classCacheFlush sets mDNS's high bit on the RR class to mark a
	// response as authoritative for its name, per RFC 6762 §10.2.
	classCacheFlush = dns.ClassINET | 0x8000
)

// Record is the decoded content of one peer's announcement, the wire
// counterpart of C7's PeerRecord before it has been given a TTL
// deadline.
type Record struct {
	PeerID          string
	Nickname        string
	ListenAddresses []string
	Capabilities    []string
	Metadata        map[string]string
}

// encode builds a DNS response message carrying one TXT answer per
// listen address, all sharing the same key=value body except for
// `addr`. isQuery=false always sets the cache-flush bit, matching
// "response packets encode exactly one TXT answer per listen
// address" (spec §6.1).
func encode(rec Record, isQuery bool, txID uint16, ttlSeconds uint32) ([]byte, error) {
	if len(rec.ListenAddresses) == 0 {
		return nil, merr.Invalid("discovery.encode", fmt.Errorf("record has no listen addresses"))
	}

	msg := new(dns.Msg)
	msg.Id = txID
	msg.Response = !isQuery
	msg.Question = []dns.Question{{
		Name:   serviceLabel,
		Qtype:  dns.TypeTXT,
		Qclass: dns.ClassINET,
	}}

	if !isQuery {
		for _, addr := range rec.ListenAddresses {
			body := recordBody(rec, addr)
			if len(body) > maxRecordSize {
				return nil, merr.Invalid("discovery.encode", fmt.Errorf("encoded record exceeds %d bytes", maxRecordSize))
			}
			msg.Answer = append(msg.Answer, &dns.TXT{
				Hdr: dns.RR_Header{
					Name:   serviceLabel,
					Rrtype: dns.TypeTXT,
					Class:  classCacheFlush,
					Ttl:    ttlSeconds,
				},
				Txt: []string{body},
			})
		}
	}

	out, err := msg.Pack()
	if err != nil {
		return nil, merr.Invalid("discovery.encode", err)
	}
	if len(out) > maxRecordSize {
		return nil, merr.Invalid("discovery.encode", fmt.Errorf("encoded packet exceeds %d bytes", maxRecordSize))
	}
	return out, nil
}

func recordBody(rec Record, addr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "peer_id=%s nickname=%s addr=%s", rec.PeerID, rec.Nickname, addr)
	if len(rec.Capabilities) > 0 {
		fmt.Fprintf(&b, " caps=%s", strings.Join(rec.Capabilities, ","))
	}
	if len(rec.Metadata) > 0 {
		pairs := make([]string, 0, len(rec.Metadata))
		for k, v := range rec.Metadata {
			pairs = append(pairs, k+":"+v)
		}
		fmt.Fprintf(&b, " meta=%s", strings.Join(pairs, ","))
	}
	return b.String()
}

// decoded is everything decode recovers from a packet: whether it was
// a query or a response, its transaction id, and the zero-or-more
// records carried in its TXT answers (one per listen address, all
// sharing the same peer_id/nickname in a well-formed response).
type decoded struct {
	isQuery bool
	txID    uint16
	records []Record
}

// decode parses a DNS-shaped packet. A packet under 12 bytes, or one
// miekg/dns itself rejects, is "malformed" in spec §4.1's sense and
// its error should count toward the caller's rate limiter.
func decode(data []byte) (decoded, error) {
	if len(data) < 12 {
		return decoded{}, merr.Invalid("discovery.decode", fmt.Errorf("packet shorter than DNS header"))
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		return decoded{}, merr.Invalid("discovery.decode", err)
	}

	out := decoded{isQuery: !msg.Response, txID: msg.Id}

	// Every TXT answer for the same peer_id is a fragment of one
	// logical record (one answer per listen address, per §6.1); merge
	// them back into a single Record per peer so encode/decode round-trips.
	order := make([]string, 0, len(msg.Answer))
	merged := make(map[string]*Record)
	for _, rr := range msg.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, line := range txt.Txt {
			rec, err := parseBody(line)
			if err != nil {
				continue
			}
			existing, ok := merged[rec.PeerID]
			if !ok {
				order = append(order, rec.PeerID)
				merged[rec.PeerID] = &rec
				continue
			}
			existing.ListenAddresses = append(existing.ListenAddresses, rec.ListenAddresses...)
		}
	}
	for _, peerID := range order {
		out.records = append(out.records, *merged[peerID])
	}
	return out, nil
}

func parseBody(body string) (Record, error) {
	rec := Record{Metadata: make(map[string]string)}
	for _, field := range strings.Fields(body) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "peer_id":
			rec.PeerID = value
		case "nickname":
			rec.Nickname = value
		case "addr":
			rec.ListenAddresses = append(rec.ListenAddresses, value)
		case "caps":
			if value != "" {
				rec.Capabilities = strings.Split(value, ",")
			}
		case "meta":
			for _, kv := range strings.Split(value, ",") {
				k, v, ok := strings.Cut(kv, ":")
				if ok {
					rec.Metadata[k] = v
				}
			}
		}
	}
	if rec.PeerID == "" || rec.Nickname == "" || len(rec.ListenAddresses) == 0 {
		return Record{}, merr.Invalid("discovery.parseBody", fmt.Errorf("missing required field"))
	}
	return rec, nil
}
