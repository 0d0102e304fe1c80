package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
)

const forwardRequestComponents = `[
	{"name": "from", "type": "address"},
	{"name": "to", "type": "address"},
	{"name": "value", "type": "uint256"},
	{"name": "gas", "type": "uint256"},
	{"name": "nonce", "type": "uint256"},
	{"name": "data", "type": "bytes"}
]`

const forwarderABIJSON = `[
	{
		"type": "function", "name": "getNonce", "stateMutability": "view",
		"inputs": [{"name": "from", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "verify", "stateMutability": "view",
		"inputs": [
			{"name": "req", "type": "tuple", "components": ` + forwardRequestComponents + `},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function", "name": "execute", "stateMutability": "payable",
		"inputs": [
			{"name": "req", "type": "tuple", "components": ` + forwardRequestComponents + `},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [{"name": "", "type": "bool"}, {"name": "", "type": "bytes"}]
	}
]`

const greeterABIJSON = `[
	{
		"type": "constructor", "stateMutability": "nonpayable",
		"inputs": [{"name": "_greeting", "type": "string"}, {"name": "trustedForwarder", "type": "address"}]
	},
	{
		"type": "event", "name": "Greatings", "anonymous": false,
		"inputs": [
			{"name": "sender", "type": "address", "indexed": false},
			{"name": "greeting", "type": "string", "indexed": false}
		]
	},
	{"type": "function", "name": "greet", "stateMutability": "nonpayable", "inputs": [], "outputs": []},
	{
		"type": "function", "name": "greeting", "stateMutability": "view",
		"inputs": [], "outputs": [{"name": "", "type": "string"}]
	},
	{
		"type": "function", "name": "setGreeting", "stateMutability": "nonpayable",
		"inputs": [{"name": "_greeting", "type": "string"}], "outputs": []
	},
	{
		"type": "function", "name": "isTrustedForwarder", "stateMutability": "view",
		"inputs": [{"name": "forwarder", "type": "address"}], "outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function", "name": "trustedForwarder", "stateMutability": "view",
		"inputs": [], "outputs": [{"name": "", "type": "address"}]
	}
]`

var (
	ForwarderABI = mustParseABI(forwarderABIJSON)
	GreeterABI   = mustParseABI(greeterABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}

// forwardRequestTuple mirrors the ForwardRequest tuple; field names follow the ABI components
type forwardRequestTuple struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Gas   *big.Int
	Nonce *big.Int
	Data  []byte
}

func toTuple(req *types.ForwardRequest) forwardRequestTuple {
	return forwardRequestTuple{
		From:  req.From,
		To:    req.To,
		Value: req.Value,
		Gas:   req.Gas,
		Nonce: req.Nonce,
		Data:  req.Data,
	}
}

func fromTuple(t *forwardRequestTuple) *types.ForwardRequest {
	return &types.ForwardRequest{
		From:  t.From,
		To:    t.To,
		Value: t.Value,
		Gas:   t.Gas,
		Nonce: t.Nonce,
		Data:  t.Data,
	}
}

// PackExecute builds calldata for execute(req, signature)
func PackExecute(req *types.ForwardRequest, sig []byte) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return ForwarderABI.Pack("execute", toTuple(req), sig)
}

// PackVerify builds calldata for verify(req, signature)
func PackVerify(req *types.ForwardRequest, sig []byte) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return ForwarderABI.Pack("verify", toTuple(req), sig)
}

func PackGetNonce(from common.Address) ([]byte, error) {
	return ForwarderABI.Pack("getNonce", from)
}

// UnpackRequestArgs decodes the (req, signature) arguments shared by execute and verify
func UnpackRequestArgs(method *abi.Method, args []byte) (*types.ForwardRequest, []byte, error) {
	values, err := method.Inputs.Unpack(args)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s arguments: %w", method.Name, err)
	}
	if len(values) != 2 {
		return nil, nil, fmt.Errorf("%s expects 2 arguments, got %d", method.Name, len(values))
	}
	tuple, ok := abi.ConvertType(values[0], new(forwardRequestTuple)).(*forwardRequestTuple)
	if !ok {
		return nil, nil, fmt.Errorf("failed to decode forward request")
	}
	sig, ok := values[1].([]byte)
	if !ok {
		return nil, nil, fmt.Errorf("failed to decode signature")
	}
	return fromTuple(tuple), sig, nil
}

// UnpackExecuteResult decodes execute's (bool success, bytes returnData)
func UnpackExecuteResult(ret []byte) (bool, []byte, error) {
	values, err := ForwarderABI.Unpack("execute", ret)
	if err != nil {
		return false, nil, fmt.Errorf("failed to decode execute result: %w", err)
	}
	success, ok := values[0].(bool)
	if !ok {
		return false, nil, fmt.Errorf("unexpected execute result type %T", values[0])
	}
	data, _ := values[1].([]byte)
	return success, data, nil
}

func UnpackGetNonce(ret []byte) (*big.Int, error) {
	values, err := ForwarderABI.Unpack("getNonce", ret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

func UnpackVerify(ret []byte) (bool, error) {
	values, err := ForwarderABI.Unpack("verify", ret)
	if err != nil {
		return false, fmt.Errorf("failed to decode verify result: %w", err)
	}
	valid, _ := values[0].(bool)
	return valid, nil
}

func PackGreeterConstructor(greeting string, trustedForwarder common.Address) ([]byte, error) {
	return GreeterABI.Pack("", greeting, trustedForwarder)
}

func PackGreet() ([]byte, error) {
	return GreeterABI.Pack("greet")
}

func PackSetGreeting(greeting string) ([]byte, error) {
	return GreeterABI.Pack("setGreeting", greeting)
}

func PackGreeting() ([]byte, error) {
	return GreeterABI.Pack("greeting")
}

func PackIsTrustedForwarder(forwarder common.Address) ([]byte, error) {
	return GreeterABI.Pack("isTrustedForwarder", forwarder)
}

func UnpackGreeting(ret []byte) (string, error) {
	values, err := GreeterABI.Unpack("greeting", ret)
	if err != nil {
		return "", fmt.Errorf("failed to decode greeting: %w", err)
	}
	greeting, _ := values[0].(string)
	return greeting, nil
}

func UnpackIsTrustedForwarder(ret []byte) (bool, error) {
	values, err := GreeterABI.Unpack("isTrustedForwarder", ret)
	if err != nil {
		return false, fmt.Errorf("failed to decode isTrustedForwarder: %w", err)
	}
	trusted, _ := values[0].(bool)
	return trusted, nil
}

// GreatingsEvent is the Greeter's Greatings(address sender, string greeting) event
type GreatingsEvent struct {
	Sender   common.Address
	Greeting string
}

// GreatingsEventID is topic 0 of every Greatings log
var GreatingsEventID = GreeterABI.Events["Greatings"].ID

// UnpackGreatings decodes a Greatings log; other logs return an error
func UnpackGreatings(log *ethTypes.Log) (*GreatingsEvent, error) {
	if log == nil || len(log.Topics) == 0 || log.Topics[0] != GreatingsEventID {
		return nil, fmt.Errorf("not a Greatings log")
	}
	var event GreatingsEvent
	if err := GreeterABI.UnpackIntoInterface(&event, "Greatings", log.Data); err != nil {
		return nil, fmt.Errorf("failed to decode Greatings: %w", err)
	}
	return &event, nil
}
