package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmkim-dev/tidebook/pkg/api"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/crypto"
)

func main() {
	// Step 1: Generate or load key
	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Create order
	salt, err := crypto.GenerateSalt()
	if err != nil {
		fmt.Printf("Error generating salt: %v\n", err)
		os.Exit(1)
	}

	o := order.Order{
		Side:  order.Bid,
		Kind:  order.FixedPriceForItem,
		Maker: signer.Address(),
		Asset: order.Asset{
			Collection: common.HexToAddress("0x1000000000000000000000000000000000000001"),
			TokenID:    42,
			Amount:     1,
		},
		Price:  10_000_000_000_000_000, // 0.01 ETH in wei
		Expiry: 0,                      // No expiry
		Salt:   salt,
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Side: %s\n", o.Side)
	fmt.Printf("  Kind: %s\n", o.Kind)
	fmt.Printf("  Collection: %s\n", o.Asset.Collection.Hex())
	fmt.Printf("  TokenID: %d\n", o.Asset.TokenID)
	fmt.Printf("  Price: %s ETH\n", api.FormatEther(o.Price))
	fmt.Printf("  Salt: %d\n", o.Salt)
	fmt.Printf("  Maker: %s\n\n", o.Maker.Hex())

	// Step 3: Fingerprint and sign
	codec := order.NewCodec(order.DefaultDomain())
	fp, signature, err := signer.SignOrder(codec, o)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Fingerprint: %s\n", fp.Hex())
	fmt.Printf("Signature: 0x%x\n\n", signature)

	// Step 4: Verify signature
	fmt.Println("Verifying signature...")
	recovered, err := crypto.RecoverAddress(fp.Bytes(), signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}

	if recovered != o.Maker {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}

	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Step 5: Show how to submit to API
	req := api.MakeRequest{
		Caller: o.Maker.Hex(),
		Value:  api.FormatEther(o.Cost()),
		Orders: []api.OrderPayload{api.PayloadFromOrder(o)},
	}
	reqJSON, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("To place this order on Tidebook:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(reqJSON))
}
