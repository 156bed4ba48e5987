package sandbox

// prelude is the trusted Python bootstrap prepended to every generated
// script. It binds the prior-step data to `full_results`, exposes the
// result-printing helper, and injects a GET-only tenant HTTP client with
// pagination. Generated code itself is forbidden from importing modules or
// opening files; only this bootstrap may.
const prelude = `import json as _json
import os as _os
import sys as _sys
import urllib.request as _urllib_request
import urllib.parse as _urllib_parse

_ALLOWED_ENV = {"OKTA_CLIENT_ORGURL", "OKTA_API_TOKEN", "FULL_RESULTS_PATH"}

full_results = {}
_path = _os.environ.get("FULL_RESULTS_PATH")
if _path:
    with open(_path) as _f:
        full_results = _json.load(_f)


def okta_env(key):
    if key not in _ALLOWED_ENV:
        raise KeyError("environment key not allowed: %s" % key)
    return _os.environ.get(key, "")


def print_query_results(payload):
    print("QUERY RESULTS")
    print(_json.dumps(payload, default=str))
    print("====")


def okta_get(path, params=None, max_pages=50):
    """GET against the tenant API with Link-header pagination.

    Only paths under the tenant org URL are reachable; any other host is
    rejected before a request is made.
    """
    base = okta_env("OKTA_CLIENT_ORGURL").rstrip("/")
    token = okta_env("OKTA_API_TOKEN")
    if path.startswith("http"):
        if not path.startswith(base + "/"):
            raise ValueError("host not allowed: %s" % path)
        url = path
    else:
        url = base + "/" + path.lstrip("/")
    if params:
        url = url + "?" + _urllib_parse.urlencode(params)

    results = []
    pages = 0
    while url and pages < max_pages:
        req = _urllib_request.Request(url, method="GET")
        req.add_header("Authorization", "SSWS " + token)
        req.add_header("Accept", "application/json")
        with _urllib_request.urlopen(req, timeout=60) as resp:
            body = _json.loads(resp.read().decode("utf-8"))
            if isinstance(body, list):
                results.extend(body)
            else:
                return body
            url = None
            link = resp.headers.get("Link", "")
            for part in link.split(","):
                if 'rel="next"' in part:
                    nxt = part[part.find("<") + 1:part.find(">")]
                    if nxt.startswith(base + "/"):
                        url = nxt
        pages += 1
    return results
`
