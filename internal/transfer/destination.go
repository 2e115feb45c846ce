// Package transfer fetches the result file of a completed job and stores it
// in a local directory, an S3 bucket or an Azure Blob container.
package transfer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies where results are stored.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
	KindAzure Kind = "azure"
)

// azureBlobHostSuffix identifies Azure Blob Storage account endpoints
const azureBlobHostSuffix = ".blob.core.windows.net"

var ErrInvalidDestination = errors.New("invalid destination")

// Destination is a parsed --output value.
type Destination struct {
	Kind Kind

	// Path is the local directory or file for KindLocal
	Path string

	// Bucket or container, plus an optional key prefix
	Bucket string
	Prefix string

	// ServiceURL is the Azure account endpoint including the SAS query
	ServiceURL string
}

// ParseDestination recognises three forms:
//
//	./results or /tmp/out.xlsx                                   local path
//	s3://bucket[/prefix]                                         S3
//	https://acct.blob.core.windows.net/container[/prefix]?<sas>  Azure Blob
//
// An empty value means the current directory.
func ParseDestination(s string) (Destination, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Destination{Kind: KindLocal, Path: "."}, nil
	}

	if strings.HasPrefix(s, "s3://") {
		u, err := url.Parse(s)
		if err != nil {
			return Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
		}
		if u.Host == "" {
			return Destination{}, fmt.Errorf("%w: missing bucket in %q", ErrInvalidDestination, s)
		}
		return Destination{
			Kind:   KindS3,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	}

	if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		u, err := url.Parse(s)
		if err != nil {
			return Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
		}
		if !strings.HasSuffix(strings.ToLower(u.Hostname()), azureBlobHostSuffix) {
			return Destination{}, fmt.Errorf("%w: %s is not an Azure Blob endpoint", ErrInvalidDestination, u.Host)
		}
		container, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
		if container == "" {
			return Destination{}, fmt.Errorf("%w: missing container in %q", ErrInvalidDestination, u.Redacted())
		}
		if u.RawQuery == "" {
			return Destination{}, fmt.Errorf("%w: Azure destination needs a SAS token query", ErrInvalidDestination)
		}
		service := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/", RawQuery: u.RawQuery}
		return Destination{
			Kind:       KindAzure,
			Bucket:     container,
			Prefix:     strings.Trim(prefix, "/"),
			ServiceURL: service.String(),
		}, nil
	}

	return Destination{Kind: KindLocal, Path: s}, nil
}

// String returns a printable form without credentials.
func (d Destination) String() string {
	switch d.Kind {
	case KindS3:
		return "s3://" + joinKey(d.Bucket, d.Prefix)
	case KindAzure:
		u, err := url.Parse(d.ServiceURL)
		if err != nil {
			return "azure://" + joinKey(d.Bucket, d.Prefix)
		}
		return u.Scheme + "://" + u.Host + "/" + joinKey(d.Bucket, d.Prefix)
	default:
		return d.Path
	}
}

// objectKey places name under the destination prefix
func (d Destination) objectKey(name string) string {
	return joinKey(d.Prefix, name)
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}
