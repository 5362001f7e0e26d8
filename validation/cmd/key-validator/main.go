package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedauction/enclaveapi"
	"github.com/cloudx-io/sealedauction/validation"
)

func main() {
	keysInput := flag.String("keys", "", "Coprocessor key response JSON (file path or inline JSON)")
	pcrsPath := flag.String("pcrs", "", "Path to known PCR sets JSON file")
	outputFormat := flag.String("format", "text", "Output format: text or json")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Checks the attestation binding the coprocessor's sealing and oracle keys.")
		fmt.Fprintln(os.Stderr, "Exit codes: 0 passed, 1 failed, 2 invalid input.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *keysInput == "" || *pcrsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	var keyResponse enclaveapi.KeyResponse
	if err := json.Unmarshal(readInput(*keysInput), &keyResponse); err != nil {
		fail("reading key response", err)
	}
	knownPCRs, err := validation.LoadPCRsFromFile(*pcrsPath)
	if err != nil {
		fail("reading PCR sets", err)
	}

	result, err := validation.ValidateKeyResponse(&keyResponse, validation.Options{KnownPCRs: knownPCRs})
	if err != nil {
		fail("validating", err)
	}

	checks := []struct {
		name string
		ok   bool
	}{
		{"pcrs_valid", result.PCRsValid},
		{"certificate_valid", result.CertificateValid},
		{"signature_valid", result.SignatureValid},
		{"public_key_match", result.PublicKeyMatch},
		{"oracle_key_match", result.OracleKeyMatch},
	}

	if *outputFormat == "json" {
		output := map[string]any{"valid": result.IsValid(), "details": result.ValidationDetails}
		for _, c := range checks {
			output[c.name] = c.ok
		}
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fail("encoding result", err)
		}
		fmt.Println(string(data))
	} else {
		for _, c := range checks {
			fmt.Printf("%-18s %v\n", c.name, c.ok)
		}
		for _, detail := range result.ValidationDetails {
			fmt.Println("  - " + detail)
		}
		fmt.Printf("valid: %v\n", result.IsValid())
	}

	if !result.IsValid() {
		os.Exit(1)
	}
}

func readInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", step, err)
	os.Exit(2)
}
