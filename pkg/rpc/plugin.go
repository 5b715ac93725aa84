package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/chainbridge/pkg/config"
	"github.com/fortiblox/chainbridge/pkg/router"
)

// Plugin protocol methods handled by the transport itself.
const (
	MethodGetManifest = "getmanifest"
	MethodInit        = "init"
)

// MethodSet is a dispatcher that can list its methods. *router.Router
// implements it.
type MethodSet interface {
	Dispatcher
	Methods() []router.Method
}

// InitFunc applies lightningd's init options and configuration. An error is
// logged; lightningd still gets an answer.
type InitFunc func(ctx context.Context, params InitParams) error

// Plugin speaks lightningd's plugin protocol: JSON-RPC 2.0 objects
// concatenated on stdin and stdout, each written message terminated by a
// blank line. Requests run concurrently; writes are serialized.
type Plugin struct {
	in      io.Reader
	out     io.Writer
	methods MethodSet
	options []config.PluginOption
	onInit  InitFunc
	log     logrus.FieldLogger

	wmu sync.Mutex
	wg  sync.WaitGroup
}

// NewPlugin returns a plugin transport reading in and writing out.
func NewPlugin(in io.Reader, out io.Writer, methods MethodSet, options []config.PluginOption, onInit InitFunc, log logrus.FieldLogger) *Plugin {
	return &Plugin{
		in:      in,
		out:     out,
		methods: methods,
		options: options,
		onInit:  onInit,
		log:     log.WithField("component", "plugin"),
	}
}

// Run serves requests until lightningd closes stdin. In-flight calls are
// cancelled and awaited before Run returns.
func (p *Plugin) Run(ctx context.Context) error {
	defer p.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dec := json.NewDecoder(bufio.NewReader(p.in))
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		switch req.Method {
		case MethodGetManifest:
			p.reply(req.ID, p.manifest(), nil)
		case MethodInit:
			p.init(ctx, &req)
		default:
			p.wg.Add(1)
			go func(req Request) {
				defer p.wg.Done()
				result, err := p.methods.Handle(ctx, req.Method, req.Params)
				if req.IsNotification() {
					return
				}
				if err != nil {
					p.reply(req.ID, nil, FromError(err))
					return
				}
				p.reply(req.ID, result, nil)
			}(req)
		}
	}
}

func (p *Plugin) manifest() Manifest {
	m := Manifest{
		Options:    make([]ManifestOption, 0, len(p.options)),
		RPCMethods: []ManifestMethod{},
	}
	for _, opt := range p.options {
		m.Options = append(m.Options, ManifestOption{
			Name:        opt.Name,
			Type:        opt.Type,
			Default:     opt.Default,
			Description: opt.Description,
		})
	}
	for _, meth := range p.methods.Methods() {
		m.RPCMethods = append(m.RPCMethods, ManifestMethod{
			Name:        meth.Name,
			Usage:       meth.Usage,
			Description: meth.Description,
		})
	}
	return m
}

func (p *Plugin) init(ctx context.Context, req *Request) {
	var params InitParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			p.reply(req.ID, nil, NewRPCError(InvalidParams, fmt.Sprintf("init params: %v", err)))
			return
		}
	}
	if p.onInit != nil {
		if err := p.onInit(ctx, params); err != nil {
			p.log.WithError(err).Error("initialization failed")
		}
	}
	p.reply(req.ID, struct{}{}, nil)
}

func (p *Plugin) reply(id json.RawMessage, result interface{}, rpcErr *RPCError) {
	resp := Response{JSONRPC: JSONRPCVersion, ID: id, Result: result, Error: rpcErr}
	if err := p.write(resp); err != nil {
		p.log.WithError(err).Error("write response")
	}
}

// Notify sends a notification to lightningd. It implements
// logging.Notifier and must not log itself.
func (p *Plugin) Notify(method string, params interface{}) error {
	return p.write(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params})
}

func (p *Plugin) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n', '\n')

	p.wmu.Lock()
	defer p.wmu.Unlock()
	_, err = p.out.Write(data)
	return err
}
