package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/signpad/auth"
	"github.com/jmcleod/signpad/pad"
)

var signatureCmd = &cobra.Command{
	Use:   "signature",
	Short: "Archived signature tools",
	Long:  `Commands for inspecting signatures exported from GET /signatures/{subject}.`,
}

// ---------------------------------------------------------------------------
// Local types matching the API's JSON responses.
// ---------------------------------------------------------------------------

type signatureExport struct {
	Subject    string `json:"subject"`
	PadID      string `json:"pad_id"`
	Token      string `json:"token"`
	ReceivedAt string `json:"received_at"`
}

type padExport struct {
	ID        string          `json:"id"`
	PublicJWK json.RawMessage `json:"public_jwk"`
}

type verifyResult struct {
	File    string        `json:"file"`
	Subject string        `json:"subject"`
	PadID   string        `json:"pad_id"`
	Valid   bool          `json:"valid"`
	Checks  []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *verifyResult) pass(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "pass", Detail: detail})
}

func (r *verifyResult) warn(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "warn", Detail: detail})
}

func (r *verifyResult) fail(name, detail string) {
	r.Valid = false
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "fail", Detail: detail})
}

// ---------------------------------------------------------------------------
// Core verification logic
// ---------------------------------------------------------------------------

func verifySignature(sig signatureExport, p padExport) verifyResult {
	result := verifyResult{
		Subject: sig.Subject,
		PadID:   sig.PadID,
		Valid:   true,
	}

	// 1. The export belongs to the pad whose key we hold.
	if sig.PadID == p.ID {
		result.pass("pad_id", "")
	} else {
		result.fail("pad_id", fmt.Sprintf("signature pad_id=%s, pad file id=%s", sig.PadID, p.ID))
	}

	// 2. RS256 signature under the pad's confirmed key.
	verifier := auth.New(nil)
	claims, err := verifier.VerifyAssertion(&pad.Pad{ID: p.ID, Validated: true, PublicKey: p.PublicJWK}, sig.Token)
	if err != nil {
		result.fail("token_signature", err.Error())
		return result
	}
	result.pass("token_signature", "kid="+claims.KeyID)
	s := claims.Signature()

	// 3. Issuer.
	switch s.Issuer {
	case p.ID:
		result.pass("issuer", "")
	case "":
		result.warn("issuer", "token carries no iss claim")
	default:
		result.fail("issuer", fmt.Sprintf("iss=%s, expected %s", s.Issuer, p.ID))
	}

	// 4. Subject.
	if s.Subject == sig.Subject {
		result.pass("subject", "")
	} else {
		result.fail("subject", fmt.Sprintf("sub=%s, export subject=%s", s.Subject, sig.Subject))
	}

	// 5. Signature image.
	if strings.HasPrefix(s.PNG, "data:image/png") {
		result.pass("signature_image", "")
	} else if s.PNG != "" {
		result.warn("signature_image", "sigpng is not a PNG data URL")
	} else {
		result.fail("signature_image", "token carries no sigpng claim")
	}

	// 6. Issued before received. Clock skew between pad and server is a
	// warning, not a failure.
	received, err := time.Parse(time.RFC3339Nano, sig.ReceivedAt)
	switch {
	case s.IssuedAt.IsZero():
		result.warn("issued_before_received", "token carries no iat claim")
	case err != nil:
		result.warn("issued_before_received", "received_at could not be parsed")
	case s.IssuedAt.After(received):
		result.warn("issued_before_received",
			fmt.Sprintf("iat=%s is later than received_at=%s", s.IssuedAt.Format(time.RFC3339), sig.ReceivedAt))
	default:
		result.pass("issued_before_received", "")
	}

	return result
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printHumanResult(result verifyResult) {
	fmt.Printf("Signature verification: %s\n", result.File)
	fmt.Printf("Subject: %s\n", result.Subject)
	fmt.Printf("Pad ID:  %s\n\n", result.PadID)

	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
		case "warn":
			tag = "[WARN]"
		}
		if c.Detail != "" {
			fmt.Printf("%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Printf("%s %s\n", tag, c.Name)
		}
	}

	fmt.Println()
	if result.Valid {
		fmt.Println("Result: VALID")
		return
	}
	failures, warnings := 0, 0
	for _, c := range result.Checks {
		switch c.Status {
		case "fail":
			failures++
		case "warn":
			warnings++
		}
	}
	fmt.Printf("Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var (
	verifyJSONOutput bool
	verifyPadFile    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify an exported signature against its pad's public key",
	Long: `Reads a signature exported from GET /signatures/{subject} and the pad
description from GET /pads/{padID}, then checks that the archived token is an
RS256 assertion signed by that pad and that its claims match the export.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(signatureCmd)
	signatureCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
	verifyCmd.Flags().StringVar(&verifyPadFile, "pad", "", "Pad JSON file (GET /pads/{padID} response)")
	verifyCmd.MarkFlagRequired("pad")
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	var sig signatureExport
	if err := readJSONFile(filePath, &sig); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	var p padExport
	if err := readJSONFile(verifyPadFile, &p); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	result := verifySignature(sig, p)
	result.File = filePath

	if verifyJSONOutput {
		if err := writeIndented(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	} else {
		printHumanResult(result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
