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
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/keychain"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
)

func parseName(uri string) (name.Name, error) {
	n, err := name.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid name %q: %w", uri, err)
	}
	return n, nil
}

// newListCmd lists identities, or keys and certificates with -k and -c.
func newListCmd(opts *Options) *cobra.Command {
	var keys, certs bool
	cmd := &cobra.Command{
		Use:   "list [prefix]",
		Short: "List identities, keys or certificates",
		Long: `List the identities in the PIB. With --keys list key names, with --certs
list certificate names. An optional name prefix restricts the result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix name.Name
			if len(args) == 1 {
				var err error
				if prefix, err = parseName(args[0]); err != nil {
					return err
				}
			}
			return opts.withSession(cmd.Context(), func(s *session) error {
				var (
					kind  string
					names []name.Name
					err   error
				)
				switch {
				case certs:
					kind = "certificates"
					names, err = s.kc.ListCerts(cmd.Context(), prefix)
				case keys:
					kind = "keys"
					names, err = s.kc.ListKeys(cmd.Context(), prefix)
				default:
					kind = "identities"
					names, err = s.kc.ListIdentities(cmd.Context())
					if err == nil && prefix != nil {
						names = slices.DeleteFunc(names, func(n name.Name) bool {
							return !prefix.IsPrefixOf(n)
						})
					}
				}
				if err != nil {
					return err
				}
				slices.SortFunc(names, name.Compare)
				return opts.printer().PrintNames(kind, names)
			})
		},
	}
	cmd.Flags().BoolVarP(&keys, "keys", "k", false, "list keys")
	cmd.Flags().BoolVarP(&certs, "certs", "c", false, "list certificates")
	cmd.MarkFlagsMutuallyExclusive("keys", "certs")
	return cmd
}

// newKeyGenCmd generates a key and self-signed certificate under an identity.
func newKeyGenCmd(opts *Options) *cobra.Command {
	var (
		keyType  string
		keySize  int
		keyID    string
		validity time.Duration
	)
	cmd := &cobra.Command{
		Use:   "key-gen <identity>",
		Short: "Generate a key pair and self-signed certificate",
		Long: `Generate a key pair under the identity, creating the identity if needed,
and issue a self-signed certificate for it. Prints the certificate name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := parseName(args[0])
			if err != nil {
				return err
			}

			var genOpts []keychain.GenerateOption
			if keyType != "" {
				alg, err := algorithm.Parse(keyType)
				if err != nil {
					return err
				}
				genOpts = append(genOpts, keychain.WithAlgorithm(alg))
			}
			if keySize != 0 {
				genOpts = append(genOpts, keychain.WithRSAKeySize(keySize))
			}
			if keyID != "" {
				id, err := name.ParseComponent(keyID)
				if err != nil {
					return fmt.Errorf("invalid key id %q: %w", keyID, err)
				}
				genOpts = append(genOpts, keychain.WithKeyID(id))
			}
			if validity != 0 {
				genOpts = append(genOpts, keychain.WithValidity(validity))
			}

			opts.printVerbose("Generating key for identity: %s", identity)
			return opts.withSession(cmd.Context(), func(s *session) error {
				cert, err := s.kc.GenerateKey(cmd.Context(), identity, genOpts...)
				if err != nil {
					return err
				}
				return opts.printer().PrintSuccess(cert.Name.String())
			})
		},
	}
	cmd.Flags().StringVarP(&keyType, "type", "t", "", "key algorithm (ecdsa, rsa); defaults to keychain.default_algorithm")
	cmd.Flags().IntVar(&keySize, "key-size", 0, "RSA key size in bits")
	cmd.Flags().StringVarP(&keyID, "key-id", "i", "", "key id component instead of random bytes")
	cmd.Flags().DurationVar(&validity, "validity", 0, "certificate validity period")
	return cmd
}

// newCertDumpCmd prints a certificate as base64 or, with --info, its fields.
func newCertDumpCmd(opts *Options) *cobra.Command {
	var info bool
	cmd := &cobra.Command{
		Use:   "cert-dump <name>",
		Short: "Dump a certificate",
		Long: `Dump a certificate by certificate name. A key or identity name selects
its first certificate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseName(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), func(s *session) error {
				certName := n
				if !certificate.IsCertName(n) {
					names, err := s.kc.ListCerts(cmd.Context(), n)
					if err != nil {
						return err
					}
					if len(names) == 0 {
						return fmt.Errorf("no certificate under %s: %w", n, keychain.ErrNotFound)
					}
					certName = names[0]
				}
				cert, err := s.kc.GetCert(cmd.Context(), certName)
				if err != nil {
					return err
				}
				if info {
					return opts.printer().PrintCertificate(cert)
				}
				return opts.printer().PrintCertificateWire(cert)
			})
		},
	}
	cmd.Flags().BoolVarP(&info, "info", "p", false, "print certificate fields instead of the encoding")
	return cmd
}

// newDeleteCmd deletes an identity, key or certificate row.
func newDeleteCmd(opts *Options) *cobra.Command {
	var key, cert bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an identity, key or certificate",
		Long: `Delete an identity. With --key delete a key, with --cert a certificate.
Deletion removes only the named row: keys of a deleted identity and
certificates of a deleted key remain, as do private key files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseName(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), func(s *session) error {
				kind := "identity"
				switch {
				case cert:
					kind = "certificate"
					err = s.kc.DeleteCert(cmd.Context(), n)
				case key:
					kind = "key"
					err = s.kc.DeleteKey(cmd.Context(), n)
				default:
					err = s.kc.DeleteIdentity(cmd.Context(), n)
				}
				if err != nil {
					return err
				}
				return opts.printer().PrintSuccess(fmt.Sprintf("Deleted %s %s", kind, n))
			})
		},
	}
	cmd.Flags().BoolVarP(&key, "key", "k", false, "delete a key")
	cmd.Flags().BoolVarP(&cert, "cert", "c", false, "delete a certificate")
	cmd.MarkFlagsMutuallyExclusive("key", "cert")
	return cmd
}

// newExportCmd writes the PIB snapshot to a file or stdout.
func newExportCmd(opts *Options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-pib",
		Short: "Export the PIB database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				snapshot, err := s.kc.ExportSnapshot(cmd.Context())
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = opts.stdout.Write(snapshot)
					return err
				}
				if err := os.WriteFile(out, snapshot, 0600); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
				return opts.printer().PrintSuccess(fmt.Sprintf("Exported PIB to %s (%d bytes)", out, len(snapshot)))
			})
		},
	}
	cmd.Flags().StringVarP(&out, "file", "f", "", "output file (default stdout)")
	return cmd
}

// newSetDefaultCmd makes an identity the default.
func newSetDefaultCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-default [identity]",
		Short: "Set or show the default identity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				if len(args) == 0 {
					identity, err := s.kc.DefaultIdentity(cmd.Context())
					if err != nil {
						return err
					}
					return opts.printer().PrintSuccess(identity.String())
				}
				identity, err := parseName(args[0])
				if err != nil {
					return err
				}
				if err := s.kc.SetDefaultIdentity(cmd.Context(), identity); err != nil {
					return err
				}
				return opts.printer().PrintSuccess(fmt.Sprintf("Default identity: %s", identity))
			})
		},
	}
}
