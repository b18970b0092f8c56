// Package validatorpb defines the wire messages exchanged with a
// validator's gateway RPC service. The upstream service is defined by a
// protocol-buffer IDL; this package provides the same message shapes as
// plain, JSON-codec-friendly Go structs so the validator client can run
// over google.golang.org/grpc without a protoc-generated stub (see
// DESIGN.md for why: no protoc toolchain is available in this exercise,
// and grpc's encoding.Codec interface is pluggable by design for exactly
// this case — see internal/validator/codec.go).
package validatorpb

// KeyedURI is the wire form of a (public_key, uri) pair.
type KeyedURI struct {
	PubKey []byte `json:"pub_key"`
	URI    string `json:"uri"`
}

// Envelope is embedded in every signed server response: it carries the
// chain height the response was produced at and a detached signature
// over the response with the signature field itself zeroed.
type Envelope struct {
	Height    uint64 `json:"height"`
	BlockAge  uint64 `json:"block_age,omitempty"`
	Signature []byte `json:"signature"`
}

// RoutingFilter describes which uplinks a single OUI/router URI pair
// should receive: either a set of dev-addr ranges, or a set of (app_eui,
// dev_eui) pairs. Both may be empty, in which case the filter matches
// nothing (the OUI relies on being a default router instead).
type RoutingFilter struct {
	DevAddrRanges []DevAddrRange `json:"devaddr_ranges,omitempty"`
	EUIPairs      []EUIPair      `json:"eui_pairs,omitempty"`
}

type DevAddrRange struct {
	StartAddr uint32 `json:"start_addr"`
	EndAddr   uint32 `json:"end_addr"`
}

type EUIPair struct {
	AppEUI uint64 `json:"app_eui"`
	DevEUI uint64 `json:"dev_eui"`
}

// RoutingEntry is one OUI's routing descriptor as published by the
// routing stream.
type RoutingEntry struct {
	OUI    uint32        `json:"oui"`
	URIs   []KeyedURI    `json:"uris"`
	Filter RoutingFilter `json:"filter"`
}

// RoutingStreamReq opens the routing stream starting at height.
type RoutingStreamReq struct {
	Height uint64 `json:"height"`
}

// RoutingResp is one routing-stream update: a full snapshot of routing
// entries at Envelope.Height.
type RoutingResp struct {
	Envelope
	Routings []RoutingEntry `json:"routings"`
}

// RegionChannel mirrors region.Channel on the wire; RegionParamsResp's
// Channels list is the wire form of region.Params.
type RegionChannel struct {
	MaxEIRP   uint32              `json:"max_eirp"`
	Bandwidth uint32              `json:"bandwidth"`
	Spreading []TaggedSpreading   `json:"spreading,omitempty"`
}

type TaggedSpreading struct {
	Spreading     string `json:"spreading"`
	MaxPacketSize uint32 `json:"max_packet_size"`
}

// RegionParamsStreamReq opens the region params stream; signed because
// the validator authenticates the requester before pushing updates.
type RegionParamsStreamReq struct {
	Address   []byte `json:"address"`
	Signature []byte `json:"signature"`
}

// RegionParamsResp is one region-params-stream update.
type RegionParamsResp struct {
	Envelope
	Region   int32           `json:"region"`
	Channels []RegionChannel `json:"channels"`
}

// ConfigStreamReq opens the config-change notification stream (no body).
type ConfigStreamReq struct{}

// ConfigUpdateResp lists the configuration keys that changed.
type ConfigUpdateResp struct {
	Envelope
	Keys []string `json:"keys"`
}

// ConfigVar is one named configuration value.
type ConfigVar struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Value string `json:"value"`
}

// ConfigReq requests current values for the given keys. An empty Keys
// list is used purely to probe height/block_age (see Service.Height).
type ConfigReq struct {
	Keys []string `json:"keys"`
}

// ConfigResp answers a ConfigReq.
type ConfigResp struct {
	Envelope
	Result []ConfigVar `json:"result"`
}

// ValidatorsReq asks for up to Quantity validator addresses.
type ValidatorsReq struct {
	Quantity uint32 `json:"quantity"`
}

// ValidatorsResp answers a ValidatorsReq.
type ValidatorsResp struct {
	Envelope
	Result []KeyedURI `json:"result"`
}

// VersionReq asks for the validator's protocol version.
type VersionReq struct{}

// VersionResp answers a VersionReq. Version is nil when the validator
// answered with an empty version message (distinct from a known zero).
type VersionResp struct {
	Envelope
	Version *uint64 `json:"version,omitempty"`
}

// PocStreamReq opens the proof-of-coverage challenge stream.
type PocStreamReq struct {
	Address   []byte `json:"address"`
	Signature []byte `json:"signature"`
}

// PocChallengeResp is one pushed PoC challenge.
type PocChallengeResp struct {
	Envelope
	Challenger   KeyedURI `json:"challenger"`
	OnionKeyHash []byte   `json:"onion_key_hash"`
	BlockHash    []byte   `json:"block_hash"`
}

// CheckChallengeTargetReq asks the validator whether this gateway is the
// target of a given PoC challenge.
type CheckChallengeTargetReq struct {
	Address       []byte `json:"address"`
	ChallengeeSig []byte `json:"challengee_sig"`
	Challenger    []byte `json:"challenger"`
	BlockHash     []byte `json:"block_hash"`
	OnionKeyHash  []byte `json:"onion_key_hash"`
	Height        uint64 `json:"height"`
	Notifier      []byte `json:"notifier"`
	NotifierSig   []byte `json:"notifier_sig"`
}

// CheckChallengeTargetResp answers a CheckChallengeTargetReq. Either
// Target is true and Onion carries the onion payload, or the request was
// queued at Envelope.Height.
type CheckChallengeTargetResp struct {
	Envelope
	Target bool   `json:"target"`
	Onion  []byte `json:"onion,omitempty"`
	Queued bool   `json:"queued,omitempty"`
}

// PocKeyToURIReq resolves a PoC onion key hash to the challenger's
// KeyedURI.
type PocKeyToURIReq struct {
	Key []byte `json:"key"`
}

// PocKeyToURIResp answers a PocKeyToURIReq.
type PocKeyToURIResp struct {
	Envelope
	Route *KeyedURI `json:"route,omitempty"`
}

// PocReportReq submits a completed PoC report.
type PocReportReq struct {
	OnionKeyHash []byte `json:"onion_key_hash"`
	Report       []byte `json:"report"`
}

// PocReportResp acknowledges a PocReportReq.
type PocReportResp struct {
	Envelope
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IsActiveSCReq asks whether a state channel is active.
type IsActiveSCReq struct {
	SCID  []byte `json:"sc_id"`
	Owner []byte `json:"sc_owner"`
}

// IsActiveSCResp answers an IsActiveSCReq.
type IsActiveSCResp struct {
	Envelope
	SCID   []byte `json:"sc_id"`
	Owner  []byte `json:"sc_owner"`
	Active bool   `json:"active"`
}

// CloseSCReq requests closing a state channel with a signed close txn
// (opaque to this layer).
type CloseSCReq struct {
	CloseTxn []byte `json:"close_txn"`
}

// CloseSCResp acknowledges a CloseSCReq.
type CloseSCResp struct {
	Envelope
}

// FollowSCReq is one message sent on the bidirectional follow_sc stream.
type FollowSCReq struct {
	SCID  []byte `json:"sc_id"`
	Owner []byte `json:"sc_owner"`
}
