package router

import (
	"bytes"
	"strconv"
)

const (
	StatusOK                  = 200
	StatusNoContent           = 204
	StatusInternalServerError = 500
)

var statusText = map[int]string{
	StatusOK:                  "OK",
	StatusNoContent:           "No Content",
	StatusInternalServerError: "Internal Server Error",
}

// Header is a single response header. Headers are kept in a slice so they go
// out on the wire in the order they were added.
type Header struct {
	Name  string
	Value string
}

type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

func NoContent() Response {
	return Response{Status: StatusNoContent}
}

func InternalError() Response {
	return Response{
		Status:  StatusInternalServerError,
		Headers: []Header{{"Content-Type", "text/plain"}},
		Body:    []byte("Error"),
	}
}

// Header returns the first value for name, or "".
func (r Response) Header(name string) string {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Bytes serialises the response: status line, headers, a blank line, then the
// body. No Content-Length is sent; the connection close ends the body.
func (r Response) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(r.Status))
	if text, ok := statusText[r.Status]; ok {
		b.WriteByte(' ')
		b.WriteString(text)
	}
	b.WriteString("\r\n")
	for _, h := range r.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(r.Body)
	return b.Bytes()
}
