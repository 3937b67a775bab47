// Package restapi is the wire layer of the record data API: endpoint paths,
// single-record operations with their response parsers, and query paging.
//
// Every write is described by an Operation. The same Operation value is sent
// either on its own through Client.Execute or embedded in a composite graph,
// and its Parse method interprets the response identically in both cases.
package restapi

import (
	"net/url"
	"strings"
)

// DefaultAPIVersion is used when the configuration names none.
const DefaultAPIVersion = "59.0"

// Endpoint locates the data API of one org instance.
type Endpoint struct {
	InstanceURL string
	APIVersion  string
}

// DataPath returns the versioned path prefix, e.g. "/services/data/v59.0".
// Composite sub-requests address resources relative to the host with it.
func (e Endpoint) DataPath() string {
	version := strings.TrimPrefix(e.APIVersion, "v")
	if version == "" {
		version = DefaultAPIVersion
	}
	return "/services/data/v" + version
}

// URL returns the absolute URL of a data API path such as "/sobjects/Account/".
func (e Endpoint) URL(path string) string {
	return strings.TrimRight(e.InstanceURL, "/") + e.DataPath() + path
}

// Absolute resolves a host-relative path, e.g. a query cursor.
func (e Endpoint) Absolute(path string) string {
	return strings.TrimRight(e.InstanceURL, "/") + path
}

// QueryPath returns the path running soql.
func QueryPath(soql string) string {
	return "/query?q=" + url.QueryEscape(soql)
}

// SObjectPath returns the collection path of objectType.
func SObjectPath(objectType string) string {
	return "/sobjects/" + url.PathEscape(objectType) + "/"
}

// SObjectRecordPath returns the path of one record. id may be a reference
// placeholder, which must stay unescaped for the server to substitute it.
func SObjectRecordPath(objectType, id string) string {
	if !strings.HasPrefix(id, "@{") {
		id = url.PathEscape(id)
	}
	return "/sobjects/" + url.PathEscape(objectType) + "/" + id
}
