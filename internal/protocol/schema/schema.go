package schema

import (
	"fmt"

	"github.com/danmuck/indexd/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Typed request kinds.
const (
	ReqPing              uint32 = 1
	ReqLookupProject     uint32 = 2
	ReqRegisterFile      uint32 = 3
	ReqUnregisterFile    uint32 = 4
	ReqMatchPath         uint32 = 5
	ReqSearchText        uint32 = 6
	ReqRefreshFileSystem uint32 = 7
	ReqGetStatistics     uint32 = 8
	ReqPauseIndexing     uint32 = 9
	ReqResumeIndexing    uint32 = 10
	ReqInvalidateCache   uint32 = 11
)

const responseOffset uint32 = 100

// Typed response kinds. Each is its request kind plus responseOffset.
const (
	RespPing              = ReqPing + responseOffset
	RespLookupProject     = ReqLookupProject + responseOffset
	RespRegisterFile      = ReqRegisterFile + responseOffset
	RespUnregisterFile    = ReqUnregisterFile + responseOffset
	RespMatchPath         = ReqMatchPath + responseOffset
	RespSearchText        = ReqSearchText + responseOffset
	RespRefreshFileSystem = ReqRefreshFileSystem + responseOffset
	RespGetStatistics     = ReqGetStatistics + responseOffset
	RespPauseIndexing     = ReqPauseIndexing + responseOffset
	RespResumeIndexing    = ReqResumeIndexing + responseOffset
	RespInvalidateCache   = ReqInvalidateCache + responseOffset
)

// Typed event kinds.
const (
	EvtScanStarted          uint32 = 201
	EvtScanFinished         uint32 = 202
	EvtFilesLoading         uint32 = 203
	EvtFilesLoadingProgress uint32 = 204
	EvtFilesLoaded          uint32 = 205
	EvtIndexingStateChanged uint32 = 206
)

// Body field ids.
const (
	FieldPath        uint16 = 100
	FieldIsDirectory uint16 = 101
	FieldRoot        uint16 = 102
	FieldFound       uint16 = 103
	FieldIncluded    uint16 = 104
	FieldIgnored     uint16 = 105
	FieldPattern     uint16 = 106
	FieldPosition    uint16 = 107

	FieldUptimeMillis uint16 = 200
	FieldVersion      uint16 = 201

	FieldProjects        uint16 = 300
	FieldFiles           uint16 = 301
	FieldNegativeEntries uint16 = 302
	FieldCacheHits       uint16 = 303
	FieldRemoved         uint16 = 304

	FieldOperationID uint16 = 400
	FieldPaused      uint16 = 401
	FieldError       uint16 = 402
	FieldFilesDone   uint16 = 403
	FieldFilesTotal  uint16 = 404
)

// ResponseFor maps a request kind to its response kind.
func ResponseFor(req uint32) uint32 {
	return req + responseOffset
}

var names = map[uint32]string{
	ReqPing:                 "ping",
	ReqLookupProject:        "lookupProject",
	ReqRegisterFile:         "registerFile",
	ReqUnregisterFile:       "unregisterFile",
	ReqMatchPath:            "matchPath",
	ReqSearchText:           "searchText",
	ReqRefreshFileSystem:    "refreshFileSystem",
	ReqGetStatistics:        "getStatistics",
	ReqPauseIndexing:        "pauseIndexing",
	ReqResumeIndexing:       "resumeIndexing",
	ReqInvalidateCache:      "invalidateCache",
	EvtScanStarted:          "scanStarted",
	EvtScanFinished:         "scanFinished",
	EvtFilesLoading:         "filesLoading",
	EvtFilesLoadingProgress: "filesLoadingProgress",
	EvtFilesLoaded:          "filesLoaded",
	EvtIndexingStateChanged: "indexingStateChanged",
}

// Name returns a readable kind name for logs.
func Name(kind uint32) string {
	if n, ok := names[kind]; ok {
		return n
	}
	if n, ok := names[kind-responseOffset]; ok && kind > responseOffset && kind < EvtScanStarted {
		return n + "Response"
	}
	return fmt.Sprintf("kind(%d)", kind)
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	ReqPing:              {},
	ReqLookupProject:     {{FieldPath, tlv.TypeString}},
	ReqRegisterFile:      {{FieldPath, tlv.TypeString}},
	ReqUnregisterFile:    {{FieldPath, tlv.TypeString}},
	ReqMatchPath:         {{FieldPath, tlv.TypeString}},
	ReqSearchText:        {{FieldPath, tlv.TypeString}, {FieldPattern, tlv.TypeString}},
	ReqRefreshFileSystem: {},
	ReqGetStatistics:     {},
	ReqPauseIndexing:     {},
	ReqResumeIndexing:    {},
	ReqInvalidateCache:   {},

	RespPing:          {{FieldUptimeMillis, tlv.TypeU64}, {FieldVersion, tlv.TypeString}},
	RespLookupProject: {{FieldFound, tlv.TypeBool}},
	RespRegisterFile:  {{FieldIncluded, tlv.TypeBool}},
	RespUnregisterFile: {
		{FieldFound, tlv.TypeBool},
	},
	RespMatchPath: {
		{FieldRoot, tlv.TypeString},
		{FieldIgnored, tlv.TypeBool},
		{FieldIncluded, tlv.TypeBool},
	},
	RespSearchText:        {{FieldPosition, tlv.TypeU64}},
	RespRefreshFileSystem: {{FieldOperationID, tlv.TypeU64}},
	RespGetStatistics: {
		{FieldProjects, tlv.TypeU64},
		{FieldFiles, tlv.TypeU64},
		{FieldNegativeEntries, tlv.TypeU64},
	},
	RespPauseIndexing:   {{FieldPaused, tlv.TypeBool}},
	RespResumeIndexing:  {{FieldPaused, tlv.TypeBool}},
	RespInvalidateCache: {{FieldRemoved, tlv.TypeU64}},

	EvtScanStarted:          {},
	EvtScanFinished:         {{FieldFiles, tlv.TypeU64}},
	EvtFilesLoading:         {},
	EvtFilesLoadingProgress: {{FieldFilesDone, tlv.TypeU64}, {FieldFilesTotal, tlv.TypeU64}},
	EvtFilesLoaded:          {{FieldFiles, tlv.TypeU64}},
	EvtIndexingStateChanged: {{FieldPaused, tlv.TypeBool}},
}

// Known reports whether kind has a schema entry.
func Known(kind uint32) bool {
	_, ok := requirements[kind]
	return ok
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Uint32("message_type", messageType).Uint16("field_id", req.ID).Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
