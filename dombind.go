package render

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/quillcast/render/internal/dom"
)

// domBinder projects the parsed tree into the sandbox. Bindings are
// created lazily and cached per element, so scripts that hold two
// references to the same node observe one object. Mutations write
// straight through to the tree the snapshot is serialized from.
type domBinder struct {
	e          *env
	elements   map[*dom.Element]*goja.Object
	document   *goja.Object
	readyState string
}

// setupDocument installs the document global and the element binding
// machinery over the parsed tree.
func setupDocument(e *env) error {
	b := &domBinder{
		e:          e,
		elements:   make(map[*dom.Element]*goja.Object),
		readyState: "loading",
	}
	e.bind = b

	doc := e.rt.NewObject()
	b.document = doc
	if err := b.installEventTarget(doc); err != nil {
		return err
	}

	accessors := []struct {
		name string
		get  func() goja.Value
		set  func(goja.Value)
	}{
		{"readyState", func() goja.Value { return e.rt.ToValue(b.readyState) }, nil},
		{"title", func() goja.Value { return e.rt.ToValue(e.doc.Title()) }, func(v goja.Value) {
			e.doc.SetTitle(v.String())
		}},
		{"cookie", func() goja.Value {
			return e.rt.ToValue(e.ctx.cookies.documentCookie(e.ctx.pageURL.Hostname()))
		}, func(v goja.Value) {
			e.ctx.cookies.setFromDocument(e.ctx.pageURL.Hostname(), v.String())
		}},
		{"URL", func() goja.Value { return e.rt.ToValue(e.ctx.pageURL.Href(false)) }, nil},
		{"documentURI", func() goja.Value { return e.rt.ToValue(e.ctx.pageURL.Href(false)) }, nil},
		{"baseURI", func() goja.Value { return e.rt.ToValue(e.ctx.baseURL.Href(false)) }, nil},
		{"documentElement", func() goja.Value { return b.bindElement(e.doc.DocumentElement()) }, nil},
		{"head", func() goja.Value { return b.bindElement(e.doc.Head()) }, nil},
		{"body", func() goja.Value { return b.bindElement(e.doc.Body()) }, nil},
		{"location", func() goja.Value { return e.rt.Get("location") }, nil},
	}
	for _, a := range accessors {
		if err := b.defineAccessor(doc, a.name, a.get, a.set); err != nil {
			return err
		}
	}

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"getElementById": func(call goja.FunctionCall) goja.Value {
			return b.bindElement(e.doc.ElementByID(call.Argument(0).String()))
		},
		"querySelector": func(call goja.FunctionCall) goja.Value {
			el, err := e.doc.QuerySelector(call.Argument(0).String())
			if err != nil {
				e.throwTypeError("%s", err.Error())
			}
			return b.bindElement(el)
		},
		"querySelectorAll": func(call goja.FunctionCall) goja.Value {
			els, err := e.doc.QuerySelectorAll(call.Argument(0).String())
			if err != nil {
				e.throwTypeError("%s", err.Error())
			}
			return b.bindList(els)
		},
		"getElementsByTagName": func(call goja.FunctionCall) goja.Value {
			return b.bindList(e.doc.ElementsByTag(call.Argument(0).String()))
		},
		"createElement": func(call goja.FunctionCall) goja.Value {
			return b.bindElement(e.doc.CreateElement(call.Argument(0).String()))
		},
		"createTextNode": func(call goja.FunctionCall) goja.Value {
			return b.bindElement(e.doc.CreateTextNode(call.Argument(0).String()))
		},
		// Post-parse document.write cannot reopen the parser; recorded
		// and ignored.
		"write": func(call goja.FunctionCall) goja.Value {
			if e.opts.Diagnostics {
				e.cap.record("debug", []string{"document.write ignored"})
			}
			return goja.Undefined()
		},
		"createEvent": func(call goja.FunctionCall) goja.Value {
			ev, err := e.rt.New(e.rt.Get("Event"), e.rt.ToValue(""))
			if err != nil {
				return goja.Undefined()
			}
			return ev
		},
	}
	for name, fn := range methods {
		if err := doc.Set(name, fn); err != nil {
			return err
		}
	}

	return e.rt.Set("document", doc)
}

// setReadyState advances document.readyState. The lifecycle driver is
// the only caller.
func (b *domBinder) setReadyState(state string) {
	b.readyState = state
}

// installEventTarget grafts listener plumbing onto obj through the glue
// helper registered by the base globals.
func (b *domBinder) installEventTarget(obj *goja.Object) error {
	install, ok := goja.AssertFunction(b.e.rt.Get("__installEventTarget"))
	if !ok {
		return fmt.Errorf("event plumbing not installed")
	}
	_, err := install(goja.Undefined(), obj)
	return err
}

// defineAccessor defines a get/set property on obj. A nil set leaves the
// property read-only.
func (b *domBinder) defineAccessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) error {
	getter := b.e.rt.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	setter := goja.Undefined()
	if set != nil {
		setter = b.e.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	return obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

// bindList wraps a slice of elements as a JS array of bindings.
func (b *domBinder) bindList(els []*dom.Element) goja.Value {
	out := make([]any, 0, len(els))
	for _, el := range els {
		out = append(out, b.bindElement(el))
	}
	return b.e.rt.ToValue(out)
}

// bindElement returns the cached binding for el, building it on first
// use. Nil maps to JS null so lookup misses read naturally in page code.
func (b *domBinder) bindElement(el *dom.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	if obj, ok := b.elements[el]; ok {
		return obj
	}
	obj := b.e.rt.NewObject()
	b.elements[el] = obj
	if err := b.buildElement(obj, el); err != nil {
		delete(b.elements, el)
		b.e.throwTypeError("binding element: %s", err.Error())
	}
	return obj
}

// buildElement wires accessors and methods of one element binding.
func (b *domBinder) buildElement(obj *goja.Object, el *dom.Element) error {
	e := b.e
	if err := b.installEventTarget(obj); err != nil {
		return err
	}

	attrAccessor := func(name string) (func() goja.Value, func(goja.Value)) {
		return func() goja.Value {
				v, _ := el.Attr(name)
				return e.rt.ToValue(v)
			}, func(v goja.Value) {
				el.SetAttr(name, v.String())
			}
	}
	idGet, idSet := attrAccessor("id")
	classGet, classSet := attrAccessor("class")
	valueGet, valueSet := attrAccessor("value")

	accessors := []struct {
		name string
		get  func() goja.Value
		set  func(goja.Value)
	}{
		{"tagName", func() goja.Value {
			if el.IsText() {
				return goja.Undefined()
			}
			return e.rt.ToValue(upper(el.TagName()))
		}, nil},
		{"nodeName", func() goja.Value {
			if el.IsText() {
				return e.rt.ToValue("#text")
			}
			return e.rt.ToValue(upper(el.TagName()))
		}, nil},
		{"id", idGet, idSet},
		{"className", classGet, classSet},
		{"value", valueGet, valueSet},
		{"textContent", func() goja.Value { return e.rt.ToValue(el.Text()) }, func(v goja.Value) {
			el.SetText(v.String())
		}},
		{"innerText", func() goja.Value { return e.rt.ToValue(el.Text()) }, func(v goja.Value) {
			el.SetText(v.String())
		}},
		{"innerHTML", func() goja.Value {
			s, err := el.InnerHTML()
			if err != nil {
				e.throwTypeError("innerHTML: %s", err.Error())
			}
			return e.rt.ToValue(s)
		}, func(v goja.Value) {
			if err := el.SetInnerHTML(v.String()); err != nil {
				e.throwTypeError("innerHTML: %s", err.Error())
			}
		}},
		{"outerHTML", func() goja.Value {
			s, err := el.OuterHTML()
			if err != nil {
				e.throwTypeError("outerHTML: %s", err.Error())
			}
			return e.rt.ToValue(s)
		}, nil},
		{"parentElement", func() goja.Value { return b.bindElement(el.Parent()) }, nil},
		{"parentNode", func() goja.Value { return b.bindElement(el.Parent()) }, nil},
		{"children", func() goja.Value { return b.bindList(el.Children()) }, nil},
		{"firstElementChild", func() goja.Value {
			kids := el.Children()
			if len(kids) == 0 {
				return goja.Null()
			}
			return b.bindElement(kids[0])
		}, nil},
	}
	for _, a := range accessors {
		if err := b.defineAccessor(obj, a.name, a.get, a.set); err != nil {
			return err
		}
	}

	// style is a plain writable object: reads and writes persist within
	// the run but are not serialized, since the snapshot carries markup
	// attributes, not computed style.
	if err := obj.Set("style", e.rt.NewObject()); err != nil {
		return err
	}

	argEl := func(call goja.FunctionCall, i int) *dom.Element {
		v := call.Argument(i)
		o, ok := v.(*goja.Object)
		if !ok {
			return nil
		}
		for cand, bound := range b.elements {
			if bound == o {
				return cand
			}
		}
		return nil
	}

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"getAttribute": func(call goja.FunctionCall) goja.Value {
			v, ok := el.Attr(call.Argument(0).String())
			if !ok {
				return goja.Null()
			}
			return e.rt.ToValue(v)
		},
		"setAttribute": func(call goja.FunctionCall) goja.Value {
			el.SetAttr(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		},
		"removeAttribute": func(call goja.FunctionCall) goja.Value {
			el.RemoveAttr(call.Argument(0).String())
			return goja.Undefined()
		},
		"hasAttribute": func(call goja.FunctionCall) goja.Value {
			_, ok := el.Attr(call.Argument(0).String())
			return e.rt.ToValue(ok)
		},
		"querySelector": func(call goja.FunctionCall) goja.Value {
			m, err := el.QuerySelector(call.Argument(0).String())
			if err != nil {
				e.throwTypeError("%s", err.Error())
			}
			return b.bindElement(m)
		},
		"querySelectorAll": func(call goja.FunctionCall) goja.Value {
			ms, err := el.QuerySelectorAll(call.Argument(0).String())
			if err != nil {
				e.throwTypeError("%s", err.Error())
			}
			return b.bindList(ms)
		},
		"appendChild": func(call goja.FunctionCall) goja.Value {
			child := argEl(call, 0)
			if child == nil {
				e.throwTypeError("appendChild: argument is not a bound node")
			}
			el.AppendChild(child)
			return call.Argument(0)
		},
		"insertBefore": func(call goja.FunctionCall) goja.Value {
			child := argEl(call, 0)
			if child == nil {
				e.throwTypeError("insertBefore: argument is not a bound node")
			}
			el.InsertBefore(child, argEl(call, 1))
			return call.Argument(0)
		},
		"removeChild": func(call goja.FunctionCall) goja.Value {
			child := argEl(call, 0)
			if child == nil {
				e.throwTypeError("removeChild: argument is not a bound node")
			}
			el.RemoveChild(child)
			return call.Argument(0)
		},
		"remove": func(goja.FunctionCall) goja.Value {
			el.Remove()
			return goja.Undefined()
		},
		"contains": func(call goja.FunctionCall) goja.Value {
			other := argEl(call, 0)
			for p := other; p != nil; p = p.Parent() {
				if p == el {
					return e.rt.ToValue(true)
				}
			}
			return e.rt.ToValue(false)
		},
	}
	for name, fn := range methods {
		if err := obj.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// upper uppercases ASCII tag names the way tagName reads in browsers.
func upper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
