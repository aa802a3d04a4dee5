package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/eth2030/evmexec/core"
	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/core/vm"
	"github.com/eth2030/evmexec/geth"
	"github.com/eth2030/evmexec/log"
)

var logger = log.Module("evmexec")

var (
	chainIDFlag = &cli.Uint64Flag{
		Name:  "chainid",
		Usage: "chain id, overrides the fixture",
		Value: 1,
	}
	forkFlag = &cli.StringFlag{
		Name:    "fork",
		Aliases: []string{"hardfork"},
		Usage:   "rule set: cancun, prague; overrides the fixture",
		Value:   "prague",
	}
	noSentryFlag = &cli.BoolFlag{
		Name:  "nosentry",
		Usage: "disable the EIP-1706 SSTORE gas sentry",
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "JSON-RPC endpoint serving accounts missing from the pre-state",
	}
	rpcBlockFlag = &cli.Int64Flag{
		Name:  "rpc.block",
		Usage: "block number remote state is read at, negative for latest",
		Value: -1,
	}
	rpcTimeoutFlag = &cli.DurationFlag{
		Name:  "rpc.timeout",
		Usage: "timeout of each remote state request",
		Value: geth.DefaultRequestTimeout,
	}
	traceFlag = &cli.BoolFlag{
		Name:  "trace",
		Usage: "write an EIP-3155 JSON step trace to stderr",
	}
	traceMemoryFlag = &cli.BoolFlag{
		Name:  "trace.memory",
		Usage: "include memory in trace steps",
	}
	traceStorageFlag = &cli.BoolFlag{
		Name:  "trace.storage",
		Usage: "include storage in SLOAD and SSTORE trace steps",
	}
	dumpFlag = &cli.BoolFlag{
		Name:  "dump",
		Usage: "include the post-state of touched accounts in the output",
	}

	prestateFlag = &cli.StringFlag{
		Name:  "prestate",
		Usage: "TOML fixture providing the block environment and accounts",
	}
	codeFlag = &cli.StringFlag{
		Name:  "code",
		Usage: "hex bytecode to execute",
	}
	codeFileFlag = &cli.StringFlag{
		Name:  "codefile",
		Usage: "file holding hex bytecode, - for stdin",
	}
	inputFlag = &cli.StringFlag{
		Name:  "input",
		Usage: "hex call data",
	}
	gasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "gas available to the call",
		Value: 10_000_000,
	}
	valueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "wei sent with the call, decimal or hex",
		Value: "0",
	}
	senderFlag = &cli.StringFlag{
		Name:  "sender",
		Usage: "caller and origin address",
		Value: "0x00000000000000000000000000000000000000aa",
	}
	receiverFlag = &cli.StringFlag{
		Name:  "receiver",
		Usage: "address the code is installed at",
		Value: "0x00000000000000000000000000000000000000bb",
	}
	createFlag = &cli.BoolFlag{
		Name:  "create",
		Usage: "run the code as init code and deploy what it returns",
	}

	skipNonceFlag = &cli.BoolFlag{
		Name:  "skip.nonce",
		Usage: "accept any sender nonce and sender code",
	}
	skipBalanceFlag = &cli.BoolFlag{
		Name:  "skip.balance",
		Usage: "run without buying gas or paying the coinbase",
	}
)

var chainFlags = []cli.Flag{
	chainIDFlag, forkFlag, noSentryFlag,
	rpcFlag, rpcBlockFlag, rpcTimeoutFlag,
	traceFlag, traceMemoryFlag, traceStorageFlag,
	dumpFlag,
}

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "execute bytecode in a single call frame",
	Action: runAction,
	Flags: append([]cli.Flag{
		prestateFlag, codeFlag, codeFileFlag, inputFlag, gasFlag,
		valueFlag, senderFlag, receiverFlag, createFlag,
	}, chainFlags...),
}

var txCommand = &cli.Command{
	Name:      "tx",
	Usage:     "validate and execute the transaction described by a TOML fixture",
	ArgsUsage: "<fixture.toml>",
	Action:    txAction,
	Flags:     append([]cli.Flag{skipNonceFlag, skipBalanceFlag}, chainFlags...),
}

// environment is everything an execution needs besides its input.
type environment struct {
	config vm.HardforkConfig
	block  *vm.BlockContext
	state  *state.ExecutionStateService
	trace  vm.TraceConfig
	close  func()
}

func newEnvironment(c *cli.Context, f *Fixture) (*environment, error) {
	chainID := c.Uint64(chainIDFlag.Name)
	if !c.IsSet(chainIDFlag.Name) && f.Env.ChainID != 0 {
		chainID = f.Env.ChainID
	}
	forkName := c.String(forkFlag.Name)
	if !c.IsSet(forkFlag.Name) && f.Env.Fork != "" {
		forkName = f.Env.Fork
	}
	fork, err := vm.ParseFork(forkName)
	if err != nil {
		return nil, err
	}
	config := vm.DefaultHardforkConfig(chainID).WithFork(fork).WithProvider(vm.KZGProvider{})
	if config.IsPrague() {
		config = config.WithProvider(geth.NewBLSProvider())
	}
	config.EnforceGasSentry = !c.Bool(noSentryFlag.Name)

	store, known, err := f.PreState()
	if err != nil {
		return nil, err
	}
	env := &environment{config: config, block: f.Env.Block(), close: func() {}}
	var nd state.NodeDataService = store
	if url := c.String(rpcFlag.Name); url != "" {
		var block *big.Int
		if n := c.Int64(rpcBlockFlag.Name); n >= 0 {
			block = big.NewInt(n)
		}
		remote, err := geth.DialRPCNodeData(c.Context, url, block)
		if err != nil {
			return nil, err
		}
		remote = remote.WithTimeout(c.Duration(rpcTimeoutFlag.Name))
		env.close = remote.Close
		nd = &overlayNodeData{local: store, known: known, remote: remote}
	}
	env.state = state.NewExecutionStateService(nd)

	if c.Bool(traceFlag.Name) {
		env.trace = vm.TraceConfig{
			Enabled:       true,
			EnableMemory:  c.Bool(traceMemoryFlag.Name),
			EnableStorage: c.Bool(traceStorageFlag.Name),
			Tracer:        vm.NewJSONTraceWriter(c.App.ErrWriter),
		}
	}
	logger.Debug("environment ready", "chainID", chainID, "fork", fork, "accounts", len(known), "remote", c.String(rpcFlag.Name) != "")
	return env, nil
}

func runAction(c *cli.Context) error {
	code, err := loadCode(c)
	if err != nil {
		return err
	}
	input, err := decodeHex(c.String(inputFlag.Name))
	if err != nil {
		return fmt.Errorf("--%s: %w", inputFlag.Name, err)
	}
	var value Quantity
	if err := value.UnmarshalText([]byte(c.String(valueFlag.Name))); err != nil {
		return fmt.Errorf("--%s: %w", valueFlag.Name, err)
	}
	var sender, receiver types.Address
	if err := sender.UnmarshalText([]byte(c.String(senderFlag.Name))); err != nil {
		return fmt.Errorf("--%s: %w", senderFlag.Name, err)
	}
	if err := receiver.UnmarshalText([]byte(c.String(receiverFlag.Name))); err != nil {
		return fmt.Errorf("--%s: %w", receiverFlag.Name, err)
	}

	f := new(Fixture)
	if path := c.String(prestateFlag.Name); path != "" {
		if f, err = LoadFixture(path); err != nil {
			return err
		}
	}
	env, err := newEnvironment(c, f)
	if err != nil {
		return err
	}
	defer env.close()

	st := env.state
	create := c.Bool(createFlag.Name)
	if !create {
		st.SaveCode(receiver, code)
		st.AddAddressToAccessList(receiver)
	}
	st.AddAddressToAccessList(sender)
	for _, addr := range env.config.ActivePrecompiles() {
		st.AddAddressToAccessList(addr)
	}

	root := &vm.ProgramContext{
		Caller:           sender,
		Address:          sender,
		CodeAddress:      sender,
		Value:            new(uint256.Int),
		Origin:           sender,
		GasPrice:         new(uint256.Int),
		ChainID:          env.config.ChainID,
		State:            st,
		Block:            env.block,
		EnforceGasSentry: env.config.EnforceGasSentry,
	}
	sim := vm.NewEVMSimulator(env.config, env.trace)
	gas := c.Uint64(gasFlag.Name)
	var res *vm.ProgramResult
	if create {
		res = sim.Create(root, code, gas, value.Int(), 0)
	} else {
		res = sim.Call(root, receiver, input, gas, value.Int(), 0)
	}
	st.Finalise()

	out := &execOutput{
		Output:  res.ReturnData,
		GasUsed: hexutil.Uint64(gas - res.GasRemaining),
		Refund:  hexutil.Uint64(vm.EffectiveRefund(res.Refund, gas-res.GasRemaining)),
		Logs:    toLogOutputs(st.Logs()),
	}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	if create && res.Success {
		out.ContractAddress = &res.CreatedAddress
	}
	if c.Bool(dumpFlag.Name) {
		out.Post = dumpState(st)
	}
	if err := writeOutput(c.App.Writer, out); err != nil {
		return err
	}
	return st.Error()
}

func txAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one fixture file, got %d arguments", c.NArg())
	}
	f, err := LoadFixture(c.Args().First())
	if err != nil {
		return err
	}
	env, err := newEnvironment(c, f)
	if err != nil {
		return err
	}
	defer env.close()

	tx, err := f.Tx.Transaction(env.config.ChainID)
	if err != nil {
		return err
	}
	executor := core.NewTransactionExecutor(core.ExecutorConfig{
		Hardfork:          env.config,
		Trace:             env.trace,
		SkipNonceChecks:   c.Bool(skipNonceFlag.Name),
		SkipBalanceChecks: c.Bool(skipBalanceFlag.Name),
	})
	res, execErr := executor.Execute(tx, env.block, env.state)
	if res == nil {
		return fmt.Errorf("transaction rejected: %w", execErr)
	}

	out := &execOutput{
		Output:       res.ReturnData,
		GasUsed:      hexutil.Uint64(res.UsedGas),
		Refund:       hexutil.Uint64(res.Refund),
		IntrinsicGas: hexutil.Uint64(res.IntrinsicGas),
		Logs:         toLogOutputs(res.Logs),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if tx.IsCreate() && !res.Failed() {
		out.ContractAddress = &res.ContractAddress
	}
	if c.Bool(dumpFlag.Name) {
		out.Post = dumpState(env.state)
	}
	if err := writeOutput(c.App.Writer, out); err != nil {
		return err
	}
	if execErr != nil {
		logger.Warn("result may be incomplete", "err", execErr)
	}
	return execErr
}

func loadCode(c *cli.Context) ([]byte, error) {
	text := c.String(codeFlag.Name)
	if path := c.String(codeFileFlag.Name); path != "" {
		if text != "" {
			return nil, fmt.Errorf("--%s and --%s are mutually exclusive", codeFlag.Name, codeFileFlag.Name)
		}
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read code: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no code given, use --code or --codefile")
	}
	code, err := decodeHex(text)
	if err != nil {
		return nil, fmt.Errorf("decode code: %w", err)
	}
	return code, nil
}

// decodeHex decodes hex with an optional 0x prefix, ignoring surrounding
// whitespace.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

type execOutput struct {
	Output          hexutil.Bytes                   `json:"output"`
	GasUsed         hexutil.Uint64                  `json:"gasUsed"`
	Refund          hexutil.Uint64                  `json:"refund"`
	IntrinsicGas    hexutil.Uint64                  `json:"intrinsicGas,omitempty"`
	ContractAddress *types.Address                  `json:"contractAddress,omitempty"`
	Logs            []logOutput                     `json:"logs,omitempty"`
	Error           string                          `json:"error,omitempty"`
	Post            map[types.Address]accountOutput `json:"post,omitempty"`
}

type logOutput struct {
	Address types.Address `json:"address"`
	Topics  []types.Hash  `json:"topics"`
	Data    hexutil.Bytes `json:"data"`
}

type accountOutput struct {
	Balance *hexutil.U256             `json:"balance"`
	Nonce   hexutil.Uint64            `json:"nonce"`
	Code    hexutil.Bytes             `json:"code,omitempty"`
	Storage map[types.Hash]types.Hash `json:"storage,omitempty"`
}

func toLogOutputs(logs []*types.Log) []logOutput {
	out := make([]logOutput, 0, len(logs))
	for _, l := range logs {
		out = append(out, logOutput{Address: l.Address, Topics: l.Topics, Data: l.Data})
	}
	return out
}

// dumpState returns every account the execution touched. Storage holds
// only the slots that were read or written.
func dumpState(st *state.ExecutionStateService) map[types.Address]accountOutput {
	accounts := st.Accounts()
	addrs := make([]types.Address, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}
	post := make(map[types.Address]accountOutput, len(addrs))
	for _, addr := range addrs {
		post[addr] = accountOutput{
			Balance: (*hexutil.U256)(st.GetBalance(addr)),
			Nonce:   hexutil.Uint64(st.GetNonce(addr)),
			Code:    st.GetCode(addr),
			Storage: maps.Clone(accounts[addr].Storage),
		}
	}
	return post
}

func writeOutput(w io.Writer, out *execOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
