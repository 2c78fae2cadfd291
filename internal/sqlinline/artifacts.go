package sqlinline

const QCreateArtifactsTable = `--sql 23985cc9-2323-47d6-bc01-32936534d339
create table if not exists run_artifacts (
    folder     text        not null,
    name       text        not null,
    data       bytea       not null,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now(),
    primary key (folder, name)
);
`

const QUpsertArtifact = `--sql d613d972-8df7-4e71-b2bd-1e8299ae3b55
insert into run_artifacts (folder, name, data, created_at, updated_at)
values ($1::text, $2::text, $3::bytea, now(), now())
on conflict (folder, name) do update set
    data = excluded.data,
    updated_at = now();
`

const QSelectArtifactsByFolder = `--sql c68c8f89-c1cb-46d4-9eb7-fda0e4824e42
select name, data
from run_artifacts
where folder = $1::text
  and name like $2::text
order by name;
`

const QSelectFolders = `--sql a47d06ca-2247-499f-83aa-125d6fb58773
select folder
from run_artifacts
group by folder
order by min(created_at) desc, folder desc;
`
