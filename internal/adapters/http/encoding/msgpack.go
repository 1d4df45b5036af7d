package encoding

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const ContentTypeMsgpack = "application/msgpack"
const ContentTypeJSON = "application/json"

// contentTypeMsgpackLegacy is still sent by some clients.
const contentTypeMsgpackLegacy = "application/x-msgpack"

// MaxBodyBytes bounds decoded request bodies.
const MaxBodyBytes = 1 << 20

// NegotiateContentType checks the Accept header and returns the preferred content type
func NegotiateContentType(r *http.Request) string {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return ContentTypeJSON
	}

	if strings.Contains(accept, ContentTypeMsgpack) || strings.Contains(accept, contentTypeMsgpackLegacy) {
		return ContentTypeMsgpack
	}

	return ContentTypeJSON
}

// IsMsgpackRequest reports whether the request body is MessagePack.
func IsMsgpackRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == ContentTypeMsgpack || mediaType == contentTypeMsgpackLegacy
}

// Write encodes data in the representation negotiated for r.
func Write(w http.ResponseWriter, r *http.Request, status int, data any) error {
	if NegotiateContentType(r) == ContentTypeMsgpack {
		return WriteMsgpack(w, status, data)
	}
	return WriteJSON(w, status, data)
}

// WriteMsgpack writes a MessagePack response with the given status code
func WriteMsgpack(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", ContentTypeMsgpack)
	w.WriteHeader(status)

	encoder := msgpack.NewEncoder(w)
	encoder.SetCustomStructTag("json")
	return encoder.Encode(data)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ReadMsgpack reads MessagePack data from the request body
func ReadMsgpack(r *http.Request, target any) error {
	decoder := msgpack.NewDecoder(r.Body)
	decoder.SetCustomStructTag("json")
	return decoder.Decode(target)
}

// Decode reads the request body as MessagePack or JSON according to its
// Content-Type. The body is limited to MaxBodyBytes.
func Decode(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if IsMsgpackRequest(r) {
		return ReadMsgpack(r, target)
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}
