package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/enclaveapi"
	"github.com/cloudx-io/sealedauction/validation"
)

func main() {
	var (
		keysInput    = flag.String("keys", "", "Coprocessor key response JSON (file path or inline JSON)")
		pcrsPath     = flag.String("pcrs", "", "Path to known PCR sets JSON file")
		proofInput   = flag.String("proof", "", "Decryption proof (file path or base64)")
		handleHex    = flag.String("handle", "", "Hex handle the proof must cover")
		plaintext    = flag.String("plaintext", "", "Claimed plaintext")
		viewer       = flag.String("viewer", "", "Optional identity the decryption was issued to")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *keysInput == "" || *pcrsPath == "" || *proofInput == "" || *handleHex == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --keys, --pcrs, --proof and --handle are required\n")
		os.Exit(1)
	}

	var keyResponse enclaveapi.KeyResponse
	if err := json.Unmarshal(readInput(*keysInput), &keyResponse); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading key response: %v\n", err)
		os.Exit(2)
	}

	knownPCRs, err := validation.LoadPCRsFromFile(*pcrsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PCR sets: %v\n", err)
		os.Exit(2)
	}

	proof, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(readInput(*proofInput))))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding proof: %v\n", err)
		os.Exit(2)
	}

	handle, err := core.ParseHandle(*handleHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing handle: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateDecryptionProof(&validation.ProofValidationInput{
		KeyResponse: &keyResponse,
		Proof:       proof,
		Handle:      handle,
		Plaintext:   []byte(*plaintext),
		Viewer:      core.Identity(*viewer),
	}, validation.Options{KnownPCRs: knownPCRs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Decryption Proof Validator")
	fmt.Println()
	fmt.Println("Checks that a disclosed plaintext was signed by the oracle key of an attested coprocessor.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  proof-validator --keys <json> --pcrs <path> --proof <base64> --handle <hex> --plaintext <text> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --keys <json>                     Key response from GET /coprocessor/key")
	fmt.Println("  --pcrs <path>                     Known PCR sets ({\"pcr_sets\": [...]})")
	fmt.Println("  --proof <base64>                  Proof returned by the coprocessor decrypt call")
	fmt.Println("  --handle <hex>                    Handle the proof must cover (e.g. a bid's winner_handle)")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --plaintext <text>                Claimed plaintext (e.g. 1 for a winning bid)")
	fmt.Println("  --viewer <hex>                    Identity the decryption was issued to")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Input Format:")
	fmt.Println("  --keys and --proof accept either a file path or the inline value.")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func outputText(result *validation.ProofValidationResult) {
	fmt.Println("Decryption Proof Validator")
	fmt.Println("==========================")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  PCRs Valid:              %v\n", result.PCRsValid)
	fmt.Printf("  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Oracle Key Match:        %v\n", result.OracleKeyMatch)
	fmt.Printf("  Proof Signature Valid:   %v\n", result.ProofSignatureValid)
	fmt.Printf("  Handle Match:            %v\n", result.HandleMatch)
	fmt.Printf("  Plaintext Match:         %v\n", result.PlaintextMatch)
	fmt.Printf("  Viewer Match:            %v\n", result.ViewerMatch)
	if result.ProofSignatureValid {
		fmt.Printf("  Issued To:               %s\n", result.Viewer)
		fmt.Printf("  Issued At:               %s\n", result.IssuedAt.Format("2006-01-02T15:04:05Z07:00"))
	}

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("==========================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.ProofValidationResult) {
	output := map[string]any{
		"valid":                 result.IsValid(),
		"pcrs_valid":            result.PCRsValid,
		"certificate_valid":     result.CertificateValid,
		"signature_valid":       result.SignatureValid,
		"oracle_key_match":      result.OracleKeyMatch,
		"proof_signature_valid": result.ProofSignatureValid,
		"handle_match":          result.HandleMatch,
		"plaintext_match":       result.PlaintextMatch,
		"viewer_match":          result.ViewerMatch,
		"viewer":                result.Viewer,
		"details":               result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
