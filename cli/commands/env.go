package commands

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/catalogfi/xswap/pkg/rest"
	"github.com/catalogfi/xswap/pkg/util"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Env holds the global flags shared by every command.
type Env struct {
	URL string
	Key string
}

func (env *Env) key() (*ecdsa.PrivateKey, error) {
	if env.Key == "" {
		return nil, fmt.Errorf("no private key, set --key or PRIVATE_KEY")
	}
	return util.ParseKey(env.Key)
}

func (env *Env) client() rest.Client {
	return rest.NewClient(env.URL, nil)
}

// personalSign signs msg the way wallets sign a personal message.
func personalSign(key *ecdsa.PrivateKey, msg string) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
