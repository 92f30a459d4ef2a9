package container

import (
	"bytes"
	"encoding/json"
	"text/template"
)

// wrapperTemplate mirrors the local backend's preamble (four hooks, state
// load/save, structured final record) but serializes the post-execution
// snapshot differently: values that json.dumps rejects are dropped rather
// than degraded to their printable form. The state file is plain JSON, so
// it holds no value type beyond what the local backend's JSON encoding
// accepts.
var wrapperTemplate = template.Must(template.New("wrapper").Parse(`
import sys, json, base64, traceback, io
import urllib.request, urllib.error

STATE_FILE = {{.StateFile}}
ROUTER_ADDR = {{.RouterAddr}}
ROUTER_TOKEN = {{.Token}}
DEPTH = {{.Depth}}
SOURCE = base64.b64decode({{.SourceB64}}).decode("utf-8")

_IMPL_NAMES = {
    "llm_query", "llm_query_batched", "FINAL_VAR", "SHOW_VARS",
    "sys", "json", "base64", "traceback", "io", "urllib",
    "STATE_FILE", "ROUTER_ADDR", "ROUTER_TOKEN", "DEPTH", "SOURCE",
    "_IMPL_NAMES", "_post", "_rlm_calls", "_state", "_g",
}

_rlm_calls = []

def _post(path, body):
    data = json.dumps(body).encode("utf-8")
    req = urllib.request.Request(
        "http://" + ROUTER_ADDR + path, data=data, method="POST",
        headers={"Content-Type": "application/json", "Authorization": "Bearer " + ROUTER_TOKEN},
    )
    with urllib.request.urlopen(req, timeout=290) as resp:
        return json.loads(resp.read().decode("utf-8"))

def llm_query(prompt, model=None):
    try:
        resp = _post("/llm_query", {"prompt": prompt, "model": model, "depth": DEPTH})
    except Exception as e:
        return "Error: " + str(e)
    if "rlm_call" in resp:
        _rlm_calls.append(resp["rlm_call"])
    return resp.get("response", "")

def llm_query_batched(prompts, model=None):
    try:
        resp = _post("/llm_query_batched", {"prompts": prompts, "model": model, "depth": DEPTH})
    except Exception as e:
        return ["Error: " + str(e) for _ in prompts]
    for call in resp.get("rlm_calls", []):
        _rlm_calls.append(call)
    return resp.get("responses", [])

def _strip_name(name):
    name = name.strip()
    if len(name) >= 2 and name[0] == name[-1] and name[0] in ("'", '"'):
        name = name[1:-1]
    return name.strip()

def FINAL_VAR(name):
    name = _strip_name(name)
    if name in _g and not name.startswith("_"):
        return _to_text(_g[name])
    available = sorted(k for k in _g if not k.startswith("_") and k not in _IMPL_NAMES)
    return "Variable '" + name + "' is not defined. Available: " + ", ".join(available) + ". Assign it first."

def SHOW_VARS():
    return {k: type(v).__name__ for k, v in _g.items() if not k.startswith("_") and k not in _IMPL_NAMES}

def _to_text(value):
    return json.dumps(value)

def _classify(value):
    if isinstance(value, bool):
        return "bool"
    if isinstance(value, str):
        return "string"
    if isinstance(value, (int, float)):
        return "number"
    if isinstance(value, (list, tuple, set, dict)):
        return "collection"
    return "other"

def _snapshot(names):
    locals_out, kinds_out = {}, {}
    for name in names:
        if name.startswith("_") or name in _IMPL_NAMES:
            continue
        value = _g[name]
        if callable(value) or isinstance(value, type(sys)):
            continue
        try:
            locals_out[name] = json.dumps(value)
        except TypeError:
            continue
        kinds_out[name] = _classify(value)
    return locals_out, kinds_out

_g = {"llm_query": llm_query, "llm_query_batched": llm_query_batched, "FINAL_VAR": FINAL_VAR, "SHOW_VARS": SHOW_VARS}

try:
    with open(STATE_FILE, "r") as f:
        _state = json.load(f)
except Exception:
    _state = {}

for _name, _entry in _state.items():
    if _name.startswith("_") or _name in _IMPL_NAMES:
        continue
    try:
        _g[_name] = json.loads(_entry["text"])
    except Exception:
        continue

_g["llm_query"] = llm_query
_g["llm_query_batched"] = llm_query_batched
_g["FINAL_VAR"] = FINAL_VAR
_g["SHOW_VARS"] = SHOW_VARS

_stdout, _stderr = io.StringIO(), io.StringIO()
_old_out, _old_err = sys.stdout, sys.stderr
sys.stdout, sys.stderr = _stdout, _stderr
try:
    exec(SOURCE, _g)
except Exception:
    traceback.print_exc(file=_stderr)
finally:
    sys.stdout, sys.stderr = _old_out, _old_err

_locals, _kinds = _snapshot(list(_g.keys()))
try:
    with open(STATE_FILE, "w") as f:
        json.dump({k: {"text": v, "kind": _kinds.get(k, "other")} for k, v in _locals.items()}, f)
except Exception:
    pass

print(json.dumps({
    "stdout": _stdout.getvalue(),
    "stderr": _stderr.getvalue(),
    "locals": _locals,
    "kinds": _kinds,
    "rlm_calls": _rlm_calls,
}))
`))

type wrapperParams struct {
	StateFile  string
	RouterAddr string
	Token      string
	Depth      int
	SourceB64  string
}

func renderWrapper(p wrapperParams) (string, error) {
	data := struct {
		StateFile  string
		RouterAddr string
		Token      string
		Depth      int
		SourceB64  string
	}{
		StateFile:  pyStr(p.StateFile),
		RouterAddr: pyStr(p.RouterAddr),
		Token:      pyStr(p.Token),
		Depth:      p.Depth,
		SourceB64:  pyStr(p.SourceB64),
	}
	var buf bytes.Buffer
	if err := wrapperTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func pyStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
