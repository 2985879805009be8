// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ndnkeychain.
//
// go-ndnkeychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// base64 lines in cert-dump output are wrapped like ndnsec.
const dumpLineWidth = 64

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintNames prints a list of identity, key or certificate names under kind.
func (p *Printer) PrintNames(kind string, names []name.Name) error {
	switch p.format {
	case OutputFormatJSON:
		uris := make([]string, len(names))
		for i, n := range names {
			uris[i] = n.String()
		}
		return p.printJSON(map[string]any{
			kind: uris,
		})
	case OutputFormatText:
		if len(names) == 0 {
			fmt.Fprintf(p.writer, "No %s found\n", kind)
			return nil
		}
		for _, n := range names {
			fmt.Fprintln(p.writer, n.String())
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCertificate prints certificate details.
func (p *Printer) PrintCertificate(cert *certificate.Certificate) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"name":           cert.Name.String(),
			"identity":       cert.IdentityName().String(),
			"key":            cert.KeyName().String(),
			"issuer":         cert.IssuerID().String(),
			"key_locator":    cert.KeyLocator.String(),
			"signature_type": signatureTypeName(cert.SignatureType),
			"not_before":     cert.Validity.NotBefore.UTC().Format(time.RFC3339),
			"not_after":      cert.Validity.NotAfter.UTC().Format(time.RFC3339),
			"self_signed":    cert.IsSelfSigned(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Certificate name:\n  %s\n", cert.Name)
		fmt.Fprintf(p.writer, "Validity:\n")
		fmt.Fprintf(p.writer, "  NotBefore: %s\n", cert.Validity.NotBefore.UTC().Format(time.RFC3339))
		fmt.Fprintf(p.writer, "  NotAfter:  %s\n", cert.Validity.NotAfter.UTC().Format(time.RFC3339))
		fmt.Fprintf(p.writer, "Signature Information:\n")
		fmt.Fprintf(p.writer, "  Signature Type: %s\n", signatureTypeName(cert.SignatureType))
		fmt.Fprintf(p.writer, "  Key Locator: %s\n", cert.KeyLocator)
		fmt.Fprintf(p.writer, "  Self-Signed: %t\n", cert.IsSelfSigned())
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCertificateWire prints the certificate as wrapped base64, the format
// ndnsec cert-dump emits and cert-install accepts.
func (p *Printer) PrintCertificateWire(cert *certificate.Certificate) error {
	encoded := base64.StdEncoding.EncodeToString(cert.Wire())
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"name": cert.Name.String(),
			"wire": encoded,
		})
	case OutputFormatText:
		for len(encoded) > dumpLineWidth {
			fmt.Fprintln(p.writer, encoded[:dumpLineWidth])
			encoded = encoded[dumpLineWidth:]
		}
		fmt.Fprintln(p.writer, encoded)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func signatureTypeName(t uint64) string {
	switch t {
	case certificate.SignatureSha256WithRsa:
		return "SignatureSha256WithRsa"
	case certificate.SignatureSha256WithEcdsa:
		return "SignatureSha256WithEcdsa"
	default:
		return strconv.FormatUint(t, 10)
	}
}
