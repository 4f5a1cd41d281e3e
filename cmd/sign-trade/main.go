// Command sign-trade signs a matched trade for one party and optionally
// submits the signatures for settlement.
//
//	sign-trade -symbol HBAR_USDC -seq 1 -party 2 -key <hex>
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperfill/pkg/api"
	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/crypto"
	"github.com/uhyunpark/hyperfill/pkg/settlement"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080/api/v1", "API base URL")
	symbol := flag.String("symbol", "HBAR_USDC", "market symbol")
	seq := flag.Uint64("seq", 1, "trade sequence number")
	party := flag.Int("party", 1, "which party to sign for (1 = resting, 2 = incoming)")
	key := flag.String("key", os.Getenv("PARTY_PRIVATE_KEY"), "hex private key of the party")
	other := flag.String("other", "", "the other party's signatures as JSON, required with -submit")
	submit := flag.Bool("submit", false, "POST both parties' signatures to the settle endpoint")
	flag.Parse()

	if *party != 1 && *party != 2 {
		fail("party must be 1 or 2")
	}
	if *key == "" {
		fail("missing -key (or PARTY_PRIVATE_KEY)")
	}

	// Step 1: Load key
	signer, err := crypto.FromPrivateKeyHex(*key)
	if err != nil {
		fail("key: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Address().Hex())

	client := &http.Client{Timeout: 30 * time.Second}
	base := fmt.Sprintf("%s/markets/%s/trades/%d", *apiURL, *symbol, *seq)

	// Step 2: Fetch what has to be signed
	var payload settlement.SigningPayload
	if err := getJSON(client, base+"/signing-payload", &payload); err != nil {
		fail("signing payload: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Trade %s (order id %s)\n", payload.TradeRef, payload.OrderID)

	// Step 3: Sign each leg
	sigs, err := signLegs(signer, *party, payload)
	if err != nil {
		fail("sign: %v", err)
	}
	out, _ := json.MarshalIndent(sigs, "", "  ")
	fmt.Println(string(out))

	if !*submit {
		return
	}

	// Step 4: Submit with the other party's signatures
	var theirs orderbook.Signatures
	if *other == "" {
		fail("-submit needs -other")
	}
	if err := json.Unmarshal([]byte(*other), &theirs); err != nil {
		fail("other signatures: %v", err)
	}
	req := api.SettleRequest{Party1: sigs, Party2: theirs}
	if *party == 2 {
		req = api.SettleRequest{Party1: theirs, Party2: sigs}
	}
	body, _ := json.Marshal(req)
	resp, err := client.Post(base+"/settle", "application/json", bytes.NewReader(body))
	if err != nil {
		fail("settle: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(os.Stderr, "Settle: %s\n", resp.Status)
	fmt.Println(string(raw))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func signLegs(signer *crypto.Signer, party int, p settlement.SigningPayload) (orderbook.Signatures, error) {
	digest := func(l settlement.LegPayload) string {
		if party == 1 {
			return l.Party1Digest
		}
		return l.Party2Digest
	}
	src, err := signer.SignPersonal(common.HexToHash(digest(p.Source)))
	if err != nil {
		return orderbook.Signatures{}, err
	}
	dst, err := signer.SignPersonal(common.HexToHash(digest(p.Destination)))
	if err != nil {
		return orderbook.Signatures{}, err
	}
	return orderbook.Signatures{Source: src, Destination: dst}, nil
}

func getJSON(client *http.Client, url string, v interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s %s", resp.Status, e.Error, e.Message)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
